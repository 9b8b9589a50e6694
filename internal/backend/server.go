package backend

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jo-hoe/goimagehost/internal/common"
	"github.com/jo-hoe/goimagehost/internal/core"
	"github.com/jo-hoe/goimagehost/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const probePath = "/probe"

// DefineServer creates the echo instance with logging, recovery, CORS and
// the optional upload size limit configured.
func DefineServer(config *core.ServiceConfig, reg *metrics.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	// Configure request logger to skip the probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == probePath
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogUserAgent: true,
		LogRoutePath: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
				"user_agent", v.UserAgent,
			}
			if v.Error != nil {
				slog.Error("request failed", append(attrs, "error", v.Error)...)
			} else {
				slog.Info("request", attrs...)
			}
			return nil
		},
	}))

	e.Use(RequestMetrics(reg))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.CORSAllowOrigins,
	}))
	if config.MaxUploadSize != "" {
		e.Use(middleware.BodyLimit(config.MaxUploadSize))
	}
	e.Pre(middleware.RemoveTrailingSlash())

	e.Validator = &common.GenericEchoValidator{}

	return e
}

// RequestMetrics counts served requests per method, route and status class.
func RequestMetrics(reg *metrics.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if reg == nil || c.Path() == probePath {
				return err
			}

			status := c.Response().Status
			var httpErr *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				}
			}
			reg.Inc(c.Request().Context(), metrics.HTTPRequests, map[string]string{
				"method": c.Request().Method,
				"route":  c.Path(),
				"status": metrics.StatusClass(status),
			}, 1)
			return err
		}
	}
}
