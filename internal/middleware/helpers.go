package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// IsAPIRequest returns true if the request targets the /api/ namespace.
// API callers authenticate with bearer tokens and always receive JSON.
func IsAPIRequest(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// IsJSONRequest returns true if the request carries a JSON body or
// explicitly asks for a JSON response. Used to decide between JSON errors
// and browser redirects, and to exempt requests from form-based CSRF checks.
func IsJSONRequest(c echo.Context) bool {
	req := c.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return true
	}
	return strings.HasPrefix(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
