package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

type fileParams struct {
	Name string `validate:"required,filename"`
}

func TestGenericEchoValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain name", input: "1700000000000-cat.png"},
		{name: "empty", input: "", wantErr: true},
		{name: "traversal", input: "../etc/passwd", wantErr: true},
		{name: "backslash", input: `..\secret`, wantErr: true},
		{name: "parent", input: "..", wantErr: true},
	}

	v := &GenericEchoValidator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&fileParams{Name: tt.input})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var httpErr *echo.HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", httpErr.Code)
			}
		})
	}
}
