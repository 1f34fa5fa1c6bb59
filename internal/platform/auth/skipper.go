package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are served without a bearer token.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// PublicSkipper skips authentication for the health routes.
// Use it as JWTConfig.Skipper.
func PublicSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
