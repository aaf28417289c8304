package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPErrorHandler renders classified errors and echo HTTP errors as JSON.
// Internal failures are logged with their cause and rendered without it.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		rid, _ := c.Get("request_id").(string)
		status, body := render(err)
		if status >= http.StatusInternalServerError {
			body.RequestID = rid
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Str("request_id", rid).Msg("write error response")
		}
	}
}

func render(err error) (int, ErrorBody) {
	var appErr *Error
	if errors.As(err, &appErr) {
		status := Status(appErr.Kind)
		if status >= http.StatusInternalServerError {
			return status, ErrorBody{Message: "internal server error"}
		}
		return status, ErrorBody{Message: appErr.Message}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, ErrorBody{Message: http.StatusText(he.Code)}
		}
		return he.Code, ErrorBody{Message: fmt.Sprintf("%v", he.Message)}
	}

	return http.StatusInternalServerError, ErrorBody{Message: "internal server error"}
}
