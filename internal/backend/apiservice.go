package backend

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/jo-hoe/goimagehost/internal/core"
	"github.com/jo-hoe/goimagehost/internal/metrics"
	"github.com/jo-hoe/goimagehost/internal/storage"
	"github.com/labstack/echo/v4"
)

const (
	imageFormField = "image"

	uploadedMessage = "Image uploaded successfully"
	updatedMessage  = "Image updated"
)

type APIService struct {
	config       *core.ServiceConfig
	imageService *core.ImageService
	metrics      *metrics.Registry
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type updateResponse struct {
	Message string `json:"message"`
	NewFile string `json:"newFile"`
	URL     string `json:"url"`
}

type listResponse struct {
	Total  int          `json:"total"`
	Images []core.Image `json:"images"`
}

type updateRequest struct {
	OldFile string `param:"oldFile" validate:"required,filename"`
}

func NewAPIService(config *core.ServiceConfig, imageService *core.ImageService, reg *metrics.Registry) *APIService {
	return &APIService{
		config:       config,
		imageService: imageService,
		metrics:      reg,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "API Service is running")
	})

	e.POST("/image/upload", s.uploadHandler)
	e.PUT("/image/update/:oldFile", s.updateHandler)
	e.GET("/image/all", s.listHandler)

	// Uploaded files are served as they are stored
	e.GET(s.config.URLPrefix+"/:filename", s.fileHandler)

	if s.metrics != nil {
		e.GET("/metrics", s.metrics.EchoHandlerText)
		e.GET("/metrics.json", s.metrics.EchoHandlerJSON)
	}
}

func (s *APIService) uploadHandler(ctx echo.Context) error {
	file, src, err := openImageFormFile(ctx)
	if err != nil {
		return err
	}
	defer closeFormFile(src, file.Filename)

	image, err := s.imageService.Upload(ctx.Request().Context(), file.Filename, src)
	if err != nil {
		slog.Error("uploadHandler: failed to store uploaded image",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store uploaded image")
	}

	return ctx.JSON(http.StatusOK, uploadResponse{
		Message:  uploadedMessage,
		Filename: image.Filename,
		URL:      image.URL,
	})
}

func (s *APIService) updateHandler(ctx echo.Context) error {
	var request updateRequest
	if err := (&echo.DefaultBinder{}).BindPathParams(ctx, &request); err != nil {
		return err
	}
	oldFile, err := unescapePathParam(ctx, request.OldFile)
	if err != nil {
		slog.Warn("updateHandler: malformed old file parameter", "status", http.StatusBadRequest, "old_file", request.OldFile)
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed old file name")
	}
	request.OldFile = oldFile
	if err := ctx.Validate(&request); err != nil {
		slog.Warn("updateHandler: rejected old file name", "status", http.StatusBadRequest, "old_file", oldFile)
		return err
	}

	file, src, err := openImageFormFile(ctx)
	if err != nil {
		return err
	}
	defer closeFormFile(src, file.Filename)

	image, _, err := s.imageService.Update(ctx.Request().Context(), oldFile, file.Filename, src)
	if errors.Is(err, storage.ErrInvalidFileName) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid old file name")
	}
	if err != nil {
		slog.Error("updateHandler: failed to replace image",
			"status", http.StatusInternalServerError, "error", err, "old_file", oldFile, "filename", file.Filename)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update image")
	}

	return ctx.JSON(http.StatusOK, updateResponse{
		Message: updatedMessage,
		NewFile: image.Filename,
		URL:     image.URL,
	})
}

func (s *APIService) listHandler(ctx echo.Context) error {
	images, err := s.imageService.List(ctx.Request().Context())
	if err != nil {
		slog.Error("listHandler: failed to list images",
			"status", http.StatusInternalServerError, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list images")
	}

	return ctx.JSON(http.StatusOK, listResponse{
		Total:  len(images),
		Images: images,
	})
}

// fileHandler serves a stored file. The name is decoded exactly once so it
// matches the escaping applied by ImageService.URLFor.
func (s *APIService) fileHandler(ctx echo.Context) error {
	filename, err := unescapePathParam(ctx, ctx.Param("filename"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed file name")
	}
	if err := storage.ValidateFileName(filename); err != nil {
		return echo.ErrNotFound
	}
	return ctx.File(filepath.Join(s.config.StorageDir, filename))
}

// openImageFormFile returns the uploaded "image" part and an open reader for it.
func openImageFormFile(ctx echo.Context) (*multipart.FileHeader, multipart.File, error) {
	file, err := ctx.FormFile(imageFormField)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			// e.g. 413 from the body limit middleware
			return nil, nil, httpErr
		}
		slog.Warn("failed to get uploaded file", "status", http.StatusBadRequest, "error", err)
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "image file is required")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, "Failed to open uploaded file")
	}
	return file, src, nil
}

func closeFormFile(src multipart.File, filename string) {
	if cerr := src.Close(); cerr != nil {
		slog.Error("failed to close uploaded file reader", "error", cerr, "filename", filename)
	}
}

// unescapePathParam decodes a parameter taken from an escaped request path.
// Echo routes on the raw path when one exists and leaves parameters encoded.
func unescapePathParam(ctx echo.Context, value string) (string, error) {
	if ctx.Request().URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}
