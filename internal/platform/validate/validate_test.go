package validate

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/meditrust/internal/platform/apperr"
)

type signupLike struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=patient doctor"`
	Years int    `json:"years_experience" validate:"gte=0"`
}

func TestValidate_MissingFieldsUseJSONNames(t *testing.T) {
	err := New().Validate(&signupLike{Role: "patient"})

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, "Missing fields: name, email", appErr.Message)
}

func TestValidate_InvalidValues(t *testing.T) {
	err := New().Validate(&signupLike{Name: "A", Email: "nope", Role: "admin", Years: -1})

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Message, "Invalid role")
	assert.Contains(t, appErr.Message, "email must be a valid email address")
	assert.Contains(t, appErr.Message, "years_experience must be at least 0")
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, New().Validate(&signupLike{Name: "A", Email: "a@b.co", Role: "doctor"}))
}

func TestBind(t *testing.T) {
	e := echo.New()
	e.Validator = New()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"valid", `{"name":"A","email":"a@b.co","role":"patient"}`, ""},
		{"malformed json", `{"name":`, "Invalid request body"},
		{"missing", `{"role":"patient"}`, "Missing fields: name, email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/signup", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())

			var got signupLike
			err := Bind(c, &got)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, "A", got.Name)
				return
			}
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}
}
