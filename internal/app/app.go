// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together all plugins.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/config"
	"github.com/averlock/bastion/internal/middleware"
	"github.com/averlock/bastion/internal/plugins/auth"
	"github.com/averlock/bastion/internal/session"
	"github.com/averlock/bastion/internal/token"
)

// refreshSweepInterval is how often expired refresh records are purged.
const refreshSweepInterval = time.Hour

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client backing sessions and CSRF state.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Sessions is the Redis-backed anonymous session store used by the
	// CSRF middleware.
	Sessions *session.Store

	// AuthService is exposed for the background refresh sweep and for
	// plugins that need token operations.
	AuthService auth.AuthService

	// Users is the user repository, shared by the auth and admin plugins.
	Users auth.UserRepository
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Matters for rate limiting and
	// the CSRF failure log.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	codec, err := token.NewCodec(cfg.Auth.SecretKey, cfg.Auth.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	users := auth.NewUserRepository(db)
	refresh := auth.NewRefreshTokenRepository(db)

	app := &App{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Echo:        e,
		Sessions:    session.NewStore(rdb, cfg.Auth.SessionTTL),
		AuthService: auth.NewAuthService(users, refresh, codec, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		Users:       users,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app, nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (user loading)
// runs last, so every later stage sees a request id and security headers.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP with per-request nonce, X-Frame-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders(a.Config.Auth.SecureCookies))

	// CORS -- allow cross-origin requests for the token API.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- session-bound token on all state-changing browser requests.
	// The /api surface authenticates with bearer tokens and is exempt.
	if a.Config.Auth.CSRFEnabled {
		a.Echo.Use(middleware.CSRF(a.Sessions, a.Config.Auth.SecureCookies))
	}

	// Resolve the current user from the access token on every request.
	// Never rejects; route groups enforce their own requirements.
	a.Echo.Use(auth.LoadUser(a.AuthService))
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to appropriate HTTP responses: JSON for API clients, and for
// browsers a redirect to /login on 401 or a plain error page otherwise.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}
	} else {
		// Echo's built-in HTTP errors (e.g. 404 from the router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}
	}

	if middleware.IsAPIRequest(c) || middleware.IsJSONRequest(c) {
		c.JSON(code, map[string]string{
			"error":   http.StatusText(code),
			"message": message,
		})
		return
	}

	// Regular browser 401 -- redirect to the login page.
	if code == http.StatusUnauthorized {
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	c.String(code, fmt.Sprintf("%d %s\n\n%s\n", code, http.StatusText(code), message))
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Bastion server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// StartRefreshSweeper runs a background loop that purges expired refresh
// records. Returns immediately; the loop stops when ctx is cancelled.
func (a *App) StartRefreshSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(refreshSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.AuthService.SweepExpired(ctx, time.Now()); err != nil {
					slog.Error("refresh token sweep failed", slog.Any("error", err))
				}
			}
		}
	}()
}
