package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1M", 1 << 20},
		{"10M", 10 << 20},
		{"512K", 512 << 10},
		{"2GB", 2 << 30},
		{"100", 100},
		{"", 1 << 20},
		{"junk", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := ParseLimit(tt.in); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, body []byte, contentType string, read bool) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/signup", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	return BodyLimit("1K", "4K")(func(c echo.Context) error {
		if read {
			if _, err := io.ReadAll(c.Request().Body); err != nil {
				return err
			}
		}
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	if err := runBodyLimit(t, []byte(`{"a":1}`), echo.MIMEApplicationJSON, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	err := runBodyLimit(t, bytes.Repeat([]byte("a"), 2048), echo.MIMEApplicationJSON, false)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_MultipartUsesUploadLimit(t *testing.T) {
	err := runBodyLimit(t, bytes.Repeat([]byte("a"), 2048), echo.MIMEMultipartForm+"; boundary=x", true)
	if err != nil {
		t.Fatalf("expected multipart body under upload limit to pass, got %v", err)
	}
}

func TestBodyLimit_EnforcedDuringRead(t *testing.T) {
	e := echo.New()
	body := strings.NewReader(strings.Repeat("a", 2048))
	req := httptest.NewRequest(http.MethodPost, "/api/signup", io.NopCloser(body))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("1K", "4K")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 while reading, got %v", err)
	}
}
