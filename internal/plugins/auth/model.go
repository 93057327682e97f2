// Package auth implements Bastion's authentication core: short-lived signed
// access tokens, rotating single-use refresh tokens (selector/validator
// split), credential verification, and the middleware stages that resolve
// and gate the current user.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a registered account. This is the domain model used
// throughout the application. Database scanning and JSON marshaling use this
// struct directly.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON responses.
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Identity is the authenticated principal resolved from an access token.
// It deliberately carries only the subject id; the full user record is
// loaded separately when a pipeline stage needs it.
type Identity struct {
	UserID int64
}

// TokenPair is the result of a successful login or refresh. Refresh is the
// client-facing "selector:validator" handle; the server stores only the
// validator's hash.
type TokenPair struct {
	Access    string `json:"access"`
	Refresh   string `json:"-"` // Delivered via HTTP-only cookie, never in JSON.
	ExpiresAt int64  `json:"expires"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the credentials submitted by the login form or a JSON
// API caller.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// RegisterRequest holds the data submitted by the registration form.
type RegisterRequest struct {
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"password_confirm" form:"password_confirm"`
}

// --- Service Input DTOs (passed from handler to service) ---

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string
}

// RegisterInput is the validated input for creating a new user.
type RegisterInput struct {
	Email    string
	Password string
}
