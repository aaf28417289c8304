package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/meditrust/meditrust/internal/platform/apperr"
)

// RequireRole rejects callers whose role is not listed. It must run after
// Middleware.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return apperr.Auth("Missing or invalid auth header")
			}
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			return apperr.Forbidden("Forbidden")
		}
	}
}
