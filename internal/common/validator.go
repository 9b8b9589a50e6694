package common

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/goimagehost/internal/storage"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator plugs go-playground/validator into echo. Besides the built-in
// tags it understands "filename", which accepts plain names inside the storage directory.
type GenericEchoValidator struct {
	Validator *validator.Validate
	once      sync.Once
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	gv.once.Do(func() {
		if gv.Validator == nil {
			gv.Validator = validator.New()
		}
		_ = gv.Validator.RegisterValidation("filename", validateFileName)
	})
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return nil
}

func validateFileName(fl validator.FieldLevel) bool {
	return storage.ValidateFileName(fl.Field().String()) == nil
}
