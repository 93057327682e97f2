package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/plugins/auth"
)

// RegisterRoutes sets up all admin routes on the given Echo instance.
// Creates a /admin group gated by authentication plus the admin role.
// Returns the group so other plugins can register additional admin routes.
func RegisterRoutes(e *echo.Echo, h *Handler) *echo.Group {
	admin := e.Group("/admin",
		auth.RequireAuth(),
		auth.RequireAdmin(),
	)

	admin.GET("/users", h.Users)
	admin.PUT("/users/:id/role", h.UpdateRole)
	admin.DELETE("/users/:id", h.DeleteUser)

	return admin
}
