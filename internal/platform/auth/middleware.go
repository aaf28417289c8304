package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/meditrust/meditrust/internal/platform/apperr"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Principal is the authenticated caller, loaded fresh from the users table on
// every request.
type Principal struct {
	UserID int64
	Role   string
	Name   string
	Email  string
	Phone  string
	City   string
}

func (p *Principal) IsDoctor() bool  { return p.Role == RoleDoctor }
func (p *Principal) IsPatient() bool { return p.Role == RolePatient }

// UserLookup resolves a token subject to its user. Implementations return an
// error matching apperr.ErrNotFound when the user no longer exists.
type UserLookup interface {
	PrincipalByID(ctx context.Context, userID int64) (*Principal, error)
}

// Middleware verifies the bearer token and loads the caller. Public paths are
// skipped.
func Middleware(tokens *TokenIssuer, users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return apperr.Auth("Missing or invalid auth header")
			}

			claims, err := tokens.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				return apperr.Auth("Invalid or expired token")
			}
			userID, _ := claims.UserID()

			ctx := c.Request().Context()
			p, err := users.PrincipalByID(ctx, userID)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return apperr.Auth("User not found")
				}
				return apperr.Internal("load principal", err)
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			c.Set("user_id", p.UserID)
			return next(c)
		}
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
