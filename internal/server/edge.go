package server

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// EdgeHeaders appends permissive GET CORS headers to every response outside the excluded
// path prefixes. API routes manage their own CORS headers.
func EdgeHeaders(exclude []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !excluded(c.Request().URL.Path, exclude) {
				h := c.Response().Header()
				h.Add(echo.HeaderAccessControlAllowOrigin, "*")
				h.Add(echo.HeaderAccessControlAllowMethods, "GET")
			}
			return next(c)
		}
	}
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
