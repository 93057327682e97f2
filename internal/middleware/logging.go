// Package middleware provides HTTP middleware for the Bastion Echo server.
// Middleware is applied globally (all routes) or per-route group depending
// on the middleware type. See internal/app for registration order.
package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
)

// contextKeyRequestID stores the per-request correlation id in the Echo context.
const contextKeyRequestID = "request_id"

// RequestLogger returns middleware that assigns each request a correlation id
// and logs it on completion with structured fields: method, path, status,
// latency, and remote IP. Uses Go's built-in slog for structured logging.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Honor an upstream X-Request-ID if the proxy set one.
			reqID := c.Request().Header.Get(echo.HeaderXRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			c.Set(contextKeyRequestID, reqID)
			c.Response().Header().Set(echo.HeaderXRequestID, reqID)

			err := next(c)

			// Log after the request completes so we have the status code.
			latency := time.Since(start)
			req := c.Request()
			res := c.Response()

			// Echo runs the HTTPErrorHandler after this middleware unwinds,
			// so on error the response status is not yet written. Derive it
			// from the error instead.
			status := res.Status
			if err != nil {
				var echoErr *echo.HTTPError
				if errors.As(err, &echoErr) {
					status = echoErr.Code
				} else {
					status = apperror.SafeCode(err)
				}
			}

			attrs := []slog.Attr{
				slog.String("request_id", reqID),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", latency),
				slog.String("remote_ip", c.RealIP()),
			}

			if req.URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", req.URL.RawQuery))
			}

			// Log at different levels based on status code.
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}

			slog.LogAttrs(req.Context(), level, "request", attrs...)

			return err
		}
	}
}

// GetRequestID retrieves the correlation id assigned by RequestLogger.
// Returns empty string if the middleware has not run.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
