package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/plugins/admin"
	"github.com/averlock/bastion/internal/plugins/auth"
)

// RegisterRoutes sets up all application routes. It registers public routes
// directly and delegates to each plugin's route registration function.
//
// This is the single place where all routes are aggregated. When a new
// plugin is added, its routes are registered here.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check endpoint for Docker health monitoring. Verifies the
	// backing stores, not just process liveness.
	e.GET("/healthz", a.healthz)

	// Auth plugin (public: login, register, logout, token API).
	authHandler := auth.NewHandler(
		a.AuthService,
		a.Config.Auth.SecureCookies,
		a.Config.Auth.AccessTTL,
		a.Config.Auth.RefreshTTL,
	)
	auth.RegisterRoutes(e, authHandler)

	// Admin plugin (user management, admin role required).
	adminHandler := admin.NewHandler(a.Users, a.AuthService)
	admin.RegisterRoutes(e, adminHandler)
}

// healthz reports whether the server and its backing stores are reachable.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"server": "ok"}
	status := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		checks["mariadb"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		checks["mariadb"] = "ok"
	}

	if err := a.Redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "ok"
	}

	return c.JSON(status, checks)
}
