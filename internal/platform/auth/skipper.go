package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass the auth gate: infrastructure probes and the two
// credential-issuing endpoints.
var publicPaths = map[string]bool{
	"/health":     true,
	"/health/db":  true,
	"/metrics":    true,
	"/api/signup": true,
	"/api/login":  true,
}

// AuthSkipper matches on the registered route path, so query strings and
// trailing path parameters never widen the public set.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
