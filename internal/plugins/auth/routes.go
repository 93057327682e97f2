package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// Auth routes are public (no user required) -- the middleware is exported
// separately for other plugins to use on their route groups.
//
// POST endpoints are rate-limited to prevent brute-force and credential
// stuffing attacks: 10 attempts per IP per minute for login, 5 for register.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	// Public routes.
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	e.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	e.POST("/logout", h.Logout)

	// Post-login landing. Same payload as /api/auth/me, browser-reachable.
	e.GET("/profile", h.Me, RequireAuth())

	// Token API. Refresh is public by necessity (the access token it serves
	// may already be expired); Me requires a live access token.
	api := e.Group("/api/auth")
	api.POST("/refresh", h.Refresh, middleware.RateLimit(30, time.Minute))
	api.GET("/me", h.Me, RequireAuth())
}
