package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/session"
)

// sessionCookieName is the HTTP-only cookie carrying the session id that
// anchors the CSRF token.
const sessionCookieName = "bastion_session"

// csrfHeaderName is the header AJAX clients send the CSRF token in.
const csrfHeaderName = "X-CSRF-Token"

// csrfFormField is the hidden form field name for form submissions.
const csrfFormField = "_csrf"

// Context keys for the resolved session and its CSRF token.
const (
	contextKeySession   = "session"
	contextKeyCSRFToken = "csrf_token"
)

// CSRF returns middleware that verifies a session-bound CSRF token on all
// state-changing requests (POST, PUT, PATCH, DELETE).
//
// How it works:
//  1. On every request, resolve the browser session from its cookie,
//     creating session and cookie on first contact.
//  2. Ensure the session has a CSRF token (created lazily, stable for the
//     session's lifetime) and expose it to handlers via GetCSRFToken.
//  3. On mutating requests, compare the session's token with either the
//     X-CSRF-Token header or the _csrf form field, in constant time.
//  4. Reject with 403 on absence or mismatch, logging IP and path.
//
// Two classes of request are exempt from verification: anything under the
// /api/ namespace (bearer-token auth, no ambient cookie credential to forge)
// and JSON-bodied requests (cross-site HTML forms cannot produce them;
// SameSite cookies and CORS cover the rest).
func CSRF(store *session.Store, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			// Resolve or establish the browser session.
			sess := resolveSession(c, store)
			if sess == nil {
				var err error
				sess, err = store.Create(ctx)
				if err != nil {
					return apperror.NewInternal(err)
				}
				setSessionCookie(c, sess.ID, secure)
			}
			c.Set(contextKeySession, sess)

			sessionToken, err := store.TokenFor(ctx, sess)
			if err != nil {
				return apperror.NewInternal(err)
			}
			c.Set(contextKeyCSRFToken, sessionToken)

			// Only state-changing methods are verified.
			if isSafeMethod(req.Method) {
				return next(c)
			}

			// API routes authenticate with bearer tokens, not cookies.
			if IsAPIRequest(c) {
				return next(c)
			}

			// JSON requests can't be produced by a cross-site form post.
			if IsJSONRequest(c) {
				return next(c)
			}

			// Check header first (AJAX), then form field (traditional forms).
			submitted := req.Header.Get(csrfHeaderName)
			if submitted == "" {
				submitted = c.FormValue(csrfFormField)
			}

			// Constant-time comparison prevents timing side-channels that
			// could leak the token byte-by-byte.
			if submitted == "" ||
				subtle.ConstantTimeCompare([]byte(submitted), []byte(sessionToken)) != 1 {
				slog.Warn("csrf token mismatch",
					slog.String("remote_ip", c.RealIP()),
					slog.String("path", req.URL.Path),
					slog.String("method", req.Method),
				)
				return apperror.NewForbidden("CSRF token mismatch")
			}

			return next(c)
		}
	}
}

// resolveSession loads the session identified by the request cookie. Returns
// nil when no cookie is present or the session is unknown/expired.
func resolveSession(c echo.Context, store *session.Store) *session.Session {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	sess, err := store.Get(c.Request().Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Warn("session lookup failed", slog.Any("error", err))
		}
		return nil
	}
	return sess
}

// setSessionCookie attaches the session cookie to the response. HTTP-only:
// the session id is never exposed to scripts, only the CSRF token is.
func setSessionCookie(c echo.Context, id string, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isSafeMethod returns true for HTTP methods that should not change state.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// GetSession retrieves the browser session resolved by the CSRF middleware.
// Returns nil when the middleware has not run (e.g. CSRF disabled).
func GetSession(c echo.Context) *session.Session {
	if sess, ok := c.Get(contextKeySession).(*session.Session); ok {
		return sess
	}
	return nil
}

// GetCSRFToken retrieves the session's CSRF token for embedding in forms.
func GetCSRFToken(c echo.Context) string {
	if token, ok := c.Get(contextKeyCSRFToken).(string); ok {
		return token
	}
	return ""
}
