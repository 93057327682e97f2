package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/middleware"
)

// Handler handles HTTP requests for authentication (login, register, logout,
// refresh). Handlers are thin: they bind the request, call the service, and
// render the response. No business logic lives here.
type Handler struct {
	service    AuthService
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewHandler creates a new auth handler. secure controls the Secure flag on
// the token cookies; the TTLs bound the cookie lifetimes.
func NewHandler(service AuthService, secure bool, accessTTL, refreshTTL time.Duration) *Handler {
	return &Handler{
		service:    service,
		secure:     secure,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Login processes a login submission (POST /login). JSON clients get the
// token pair in the response body; browser form posts get cookies and a 303
// redirect to /profile.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	pair, _, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.setTokenCookies(c, pair)

	if middleware.IsJSONRequest(c) || middleware.IsAPIRequest(c) {
		return c.JSON(http.StatusOK, pair)
	}
	return c.Redirect(http.StatusSeeOther, "/profile")
}

// Register creates a new account (POST /register) and logs it straight in.
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if err := validateRegistration(req); err != nil {
		return err
	}

	user, err := h.service.Register(c.Request().Context(), RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	pair, err := h.service.IssueTokens(c.Request().Context(), user.ID, time.Now())
	if err != nil {
		return err
	}

	h.setTokenCookies(c, pair)

	if middleware.IsJSONRequest(c) || middleware.IsAPIRequest(c) {
		return c.JSON(http.StatusCreated, map[string]any{
			"user":   user,
			"tokens": pair,
		})
	}
	return c.Redirect(http.StatusSeeOther, "/profile")
}

// Refresh redeems the refresh cookie for a fresh token pair
// (POST /api/auth/refresh). A rejected redemption clears the cookie: the
// handle was burned server-side, so the client's copy is worthless. Store
// failures are different -- the record was not consumed, so the cookie is
// kept and the error propagates as a 500.
func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "no refresh token",
		})
	}

	pair, err := h.service.Refresh(c.Request().Context(), cookie.Value, time.Now())
	if err != nil {
		if !isRedemptionRejection(err) {
			return err
		}
		h.clearTokenCookies(c)
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "refresh token rejected",
		})
	}

	h.setTokenCookies(c, pair)

	return c.JSON(http.StatusOK, pair)
}

// Logout revokes the refresh token and clears both cookies (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := h.service.RevokeRefresh(c.Request().Context(), cookie.Value); err != nil {
			return err
		}
	}

	h.clearTokenCookies(c)

	if middleware.IsJSONRequest(c) || middleware.IsAPIRequest(c) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

// Me returns the authenticated user (GET /api/auth/me).
func (h *Handler) Me(c echo.Context) error {
	user := CurrentUser(c)
	if user == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	return c.JSON(http.StatusOK, user)
}

// isRedemptionRejection reports whether err is one of the domain outcomes
// that mean the presented handle is dead (never issued, consumed, expired,
// or forged). Anything else is an infrastructure failure.
func isRedemptionRejection(err error) bool {
	return errors.Is(err, ErrRefreshMalformed) ||
		errors.Is(err, ErrRefreshNotFound) ||
		errors.Is(err, ErrRefreshExpired) ||
		errors.Is(err, ErrValidatorMismatch)
}

// --- Cookie helpers ---

// setTokenCookies writes the token pair to cookies. The refresh cookie is
// HttpOnly; the access cookie is script-readable so SPA code can promote it
// to a bearer header.
func (h *Handler) setTokenCookies(c echo.Context, pair *TokenPair) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.Refresh,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.refreshTTL.Seconds()),
	})
	c.SetCookie(&http.Cookie{
		Name:     accessCookieName,
		Value:    pair.Access,
		Path:     "/",
		HttpOnly: false,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.accessTTL.Seconds()),
	})
}

// clearTokenCookies expires both token cookies.
func (h *Handler) clearTokenCookies(c echo.Context) {
	for _, name := range []string{refreshCookieName, accessCookieName} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name == refreshCookieName,
			Secure:   h.secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

// validateRegistration checks registration input before it reaches the
// service layer.
func validateRegistration(req RegisterRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apperror.NewValidation("a valid email address is required")
	}
	if len(req.Password) < 8 {
		return apperror.NewValidation("password must be at least 8 characters")
	}
	if len(req.Password) > 128 {
		return apperror.NewValidation("password must be at most 128 characters")
	}
	if req.Password != req.PasswordConfirm {
		return apperror.NewValidation("passwords do not match")
	}
	return nil
}
