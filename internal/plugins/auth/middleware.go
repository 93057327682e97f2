package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/middleware"
)

// Context keys for storing the authenticated user in the Echo context.
// Other plugins use these keys (via the exported getter functions below)
// to access the authenticated user's information.
const (
	contextKeyUser   = "auth_user"
	contextKeyUserID = "auth_user_id"
)

// accessCookieName holds the short-lived access token. Readable by scripts
// so SPA code can attach it as a bearer header.
const accessCookieName = "access"

// refreshCookieName holds the single-use refresh handle. HttpOnly and
// scoped to the refresh endpoint's semantics.
const refreshCookieName = "refresh"

// LoadUser returns middleware that resolves the current user from the
// request's access token, if one is present and valid. It NEVER rejects a
// request: anonymous and bad-token requests simply proceed with no user in
// context. Route protection is RequireAuth's job.
func LoadUser(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := extractAccessToken(c)
			if tokenString == "" {
				return next(c)
			}

			identity := service.ValidateAccess(tokenString, time.Now())
			if identity == nil {
				return next(c)
			}

			user, err := service.GetUser(c.Request().Context(), identity.UserID)
			if err != nil {
				// Token is valid but the account is gone (e.g. deleted by
				// an admin). Treat as anonymous.
				return next(c)
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeyUserID, user.ID)

			return next(c)
		}
	}
}

// RequireAuth returns middleware that rejects requests with no
// authenticated user. Must run after LoadUser. API clients get a 401 JSON
// response; browsers are redirected to /login.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if CurrentUser(c) == nil {
				return handleUnauthenticated(c)
			}
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that rejects requests from non-admin
// users. Must run after LoadUser.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return handleUnauthenticated(c)
			}
			if !user.IsAdmin() {
				if middleware.IsAPIRequest(c) || middleware.IsJSONRequest(c) {
					return c.JSON(http.StatusForbidden, map[string]string{
						"error":   "forbidden",
						"message": "admin access required",
					})
				}
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			return next(c)
		}
	}
}

// handleUnauthenticated returns the appropriate response for unauthenticated
// requests: 401 JSON for API clients, a 303 redirect to login for browsers.
func handleUnauthenticated(c echo.Context) error {
	if middleware.IsAPIRequest(c) || middleware.IsJSONRequest(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

// extractAccessToken finds the access token on the request. A bearer
// Authorization header wins over the access cookie.
func extractAccessToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(accessCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// --- Exported getters for other plugins ---

// CurrentUser retrieves the authenticated user from the Echo context.
// Returns nil if the request is not authenticated.
func CurrentUser(c echo.Context) *User {
	user, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// CurrentUserID retrieves the authenticated user's ID from the Echo
// context. Returns 0 if the request is not authenticated.
func CurrentUserID(c echo.Context) int64 {
	id, ok := c.Get(contextKeyUserID).(int64)
	if !ok {
		return 0
	}
	return id
}
