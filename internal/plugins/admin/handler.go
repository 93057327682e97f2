// Package admin provides user management endpoints gated behind the admin
// role: listing accounts, changing roles, and deleting accounts.
package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/plugins/auth"
)

const defaultPerPage = 50

// Handler handles admin user-management requests. It works against the auth
// plugin's repository and service directly; there is no separate admin
// service layer.
type Handler struct {
	users       auth.UserRepository
	authService auth.AuthService
}

// NewHandler creates a new admin handler.
func NewHandler(users auth.UserRepository, authService auth.AuthService) *Handler {
	return &Handler{users: users, authService: authService}
}

// Users lists accounts with pagination (GET /admin/users).
func (h *Handler) Users(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = defaultPerPage
	}
	offset := (page - 1) * perPage

	users, total, err := h.users.ListUsers(c.Request().Context(), offset, perPage)
	if err != nil {
		return apperror.NewInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"users":    users,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// UpdateRole changes a user's role (PUT /admin/users/:id/role). Demoting the
// last remaining admin is refused so the instance cannot lock itself out.
func (h *Handler) UpdateRole(c echo.Context) error {
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperror.NewBadRequest("invalid user id")
	}

	var req struct {
		Role auth.Role `json:"role" form:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if !req.Role.Valid() {
		return apperror.NewValidation("role must be one of: user, admin")
	}

	target, err := h.users.FindByID(c.Request().Context(), targetID)
	if err != nil {
		return err
	}

	if target.IsAdmin() && req.Role != auth.RoleAdmin {
		adminCount, err := h.users.CountAdmins(c.Request().Context())
		if err != nil {
			return apperror.NewInternal(err)
		}
		if adminCount <= 1 {
			return apperror.NewConflict("cannot demote the last admin")
		}
	}

	if err := h.users.UpdateRole(c.Request().Context(), targetID, req.Role); err != nil {
		return err
	}

	// Force a demoted admin to re-authenticate once their current access
	// token runs out.
	if target.IsAdmin() && req.Role != auth.RoleAdmin {
		if err := h.authService.RevokeAllForUser(c.Request().Context(), targetID); err != nil {
			return err
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":   targetID,
		"role": req.Role,
	})
}

// DeleteUser removes an account (DELETE /admin/users/:id). Refresh tokens go
// with it via the foreign key cascade; self-deletion is refused.
func (h *Handler) DeleteUser(c echo.Context) error {
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperror.NewBadRequest("invalid user id")
	}

	if actor := auth.CurrentUser(c); actor != nil && actor.ID == targetID {
		return apperror.NewConflict("cannot delete your own account")
	}

	target, err := h.users.FindByID(c.Request().Context(), targetID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		adminCount, err := h.users.CountAdmins(c.Request().Context())
		if err != nil {
			return apperror.NewInternal(err)
		}
		if adminCount <= 1 {
			return apperror.NewConflict("cannot delete the last admin")
		}
	}

	if err := h.users.Delete(c.Request().Context(), targetID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
