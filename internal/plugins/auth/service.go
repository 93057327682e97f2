package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/token"
)

// selectorBytes is the size of the public half of a refresh token:
// 16 random bytes, hex-encoded to 32 characters.
const selectorBytes = 16

// validatorBytes is the size of the secret half of a refresh token:
// 32 random bytes, hex-encoded to 64 characters.
const validatorBytes = 32

// AuthService defines the business logic contract for authentication.
// Handlers and middleware call these methods -- they never touch the
// repositories directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*User, error)
	Login(ctx context.Context, input LoginInput) (*TokenPair, *User, error)

	// IssueTokens mints an access token and a fresh refresh handle for the
	// user. Refresh-record insertion and access-token minting succeed or
	// fail as a unit -- a pair is never partially issued.
	IssueTokens(ctx context.Context, userID int64, now time.Time) (*TokenPair, error)

	// ValidateAccess resolves an identity from an access token. A nil
	// result is the normal "not logged in" outcome -- malformed, tampered,
	// wrong-type, and expired tokens all land there; none of them is an
	// error.
	ValidateAccess(tokenString string, now time.Time) *Identity

	// Refresh redeems a refresh handle and issues a new token pair. The
	// presented handle is consumed regardless of outcome.
	Refresh(ctx context.Context, handle string, now time.Time) (*TokenPair, error)

	// RevokeRefresh consumes a refresh handle without issuing anything,
	// used by logout. Unknown handles are not an error.
	RevokeRefresh(ctx context.Context, handle string) error

	// RevokeAllForUser revokes every outstanding refresh token for a user.
	RevokeAllForUser(ctx context.Context, userID int64) error

	// GetUser loads the full user record for a resolved identity.
	GetUser(ctx context.Context, id int64) (*User, error)

	// SweepExpired removes refresh records whose expiry has passed.
	SweepExpired(ctx context.Context, now time.Time) error
}

// authService implements AuthService with argon2id hashing, HS256 access
// tokens, and single-use refresh records in MariaDB.
type authService struct {
	users      UserRepository
	refresh    RefreshTokenRepository
	codec      *token.Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(users UserRepository, refresh RefreshTokenRepository, codec *token.Codec, accessTTL, refreshTTL time.Duration) AuthService {
	return &authService{
		users:      users,
		refresh:    refresh,
		codec:      codec,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Register creates a new user account. It validates uniqueness, hashes the
// password with argon2id, and persists the user. The first account on a
// fresh install becomes the admin.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	email := normalizeEmail(input.Email)

	// Check if email is already taken before doing expensive hashing.
	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	role := RoleUser
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("counting users: %w", err))
	}
	if count == 0 {
		role = RoleAdmin
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login authenticates a user by email and password. On success it issues a
// token pair for the account.
func (s *authService) Login(ctx context.Context, input LoginInput) (*TokenPair, *User, error) {
	email := normalizeEmail(input.Email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// Don't reveal whether the email exists -- use a generic message.
		if apperror.SafeCode(err) == http.StatusNotFound {
			slog.Warn("failed login attempt", slog.String("email", email))
			return nil, nil, apperror.NewUnauthorized("invalid email or password")
		}
		return nil, nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !verifyPassword(input.Password, user.PasswordHash) {
		slog.Warn("failed login attempt", slog.String("email", email))
		return nil, nil, apperror.NewUnauthorized("invalid email or password")
	}

	pair, err := s.IssueTokens(ctx, user.ID, time.Now())
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return pair, user, nil
}

// IssueTokens mints the access token first (pure, no side effects), then
// inserts the refresh record. If the insert fails the minted access token is
// discarded and never returned, so a pair is issued atomically or not at all.
func (s *authService) IssueTokens(ctx context.Context, userID int64, now time.Time) (*TokenPair, error) {
	access, err := s.codec.IssueAccess(userID, now)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing access token: %w", err))
	}

	selector, err := randomHex(selectorBytes)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating selector: %w", err))
	}
	validator, err := randomHex(validatorBytes)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating validator: %w", err))
	}

	expiresAt := now.Add(s.refreshTTL).Unix()
	if err := s.refresh.Create(ctx, userID, selector, hashValidator(validator), expiresAt); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("storing refresh token: %w", err))
	}

	return &TokenPair{
		Access:    access,
		Refresh:   selector + ":" + validator,
		ExpiresAt: now.Add(s.accessTTL).Unix(),
	}, nil
}

// ValidateAccess decodes the token and checks type and expiry. The expiry
// boundary is exclusive for validity: a token checked at exactly its exp
// time is already expired.
func (s *authService) ValidateAccess(tokenString string, now time.Time) *Identity {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		slog.Debug("access token rejected", slog.Any("error", err))
		return nil
	}
	if claims.Type != token.TypeAccess {
		return nil
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil
	}
	return &Identity{UserID: claims.Subject}
}

// Refresh redeems the handle and issues a new pair for the resolved user.
func (s *authService) Refresh(ctx context.Context, handle string, now time.Time) (*TokenPair, error) {
	userID, err := s.redeem(ctx, handle, now)
	if err != nil {
		return nil, err
	}
	return s.IssueTokens(ctx, userID, now)
}

// redeem parses and consumes a refresh handle, returning the owning user id.
// The record is deleted the instant it is looked up -- before expiry and
// validator checks -- so every handle is single-use no matter how redemption
// turns out.
func (s *authService) redeem(ctx context.Context, handle string, now time.Time) (int64, error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 2 {
		return 0, ErrRefreshMalformed
	}
	selector, validator := parts[0], parts[1]

	userID, validatorHash, expiresAt, err := s.refresh.Consume(ctx, selector)
	if err != nil {
		if err == ErrRefreshNotFound {
			return 0, err
		}
		return 0, apperror.NewInternal(err)
	}

	if now.Unix() > expiresAt {
		return 0, ErrRefreshExpired
	}

	computed := hashValidator(validator)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(validatorHash)) != 1 {
		// Correct selector with a wrong secret half suggests a stolen or
		// forged handle. The record is already burned; leave a trail.
		slog.Warn("refresh validator mismatch",
			slog.Int64("user_id", userID),
			slog.String("selector", selector),
		)
		return 0, ErrValidatorMismatch
	}

	return userID, nil
}

// RevokeRefresh consumes the handle's record without issuing anything.
// Malformed or unknown handles are ignored -- logout is best-effort.
func (s *authService) RevokeRefresh(ctx context.Context, handle string) error {
	parts := strings.Split(handle, ":")
	if len(parts) != 2 {
		return nil
	}

	_, _, _, err := s.refresh.Consume(ctx, parts[0])
	if err != nil && err != ErrRefreshNotFound {
		return apperror.NewInternal(err)
	}
	return nil
}

// RevokeAllForUser deletes every refresh record belonging to the user.
func (s *authService) RevokeAllForUser(ctx context.Context, userID int64) error {
	if err := s.refresh.DeleteByUser(ctx, userID); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// GetUser loads the full user record by id.
func (s *authService) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.FindByID(ctx, id)
}

// SweepExpired removes refresh records whose expiry has passed. Called
// periodically from the app bootstrap.
func (s *authService) SweepExpired(ctx context.Context, now time.Time) error {
	n, err := s.refresh.DeleteExpired(ctx, now.Unix())
	if err != nil {
		return apperror.NewInternal(err)
	}
	if n > 0 {
		slog.Info("swept expired refresh tokens", slog.Int64("count", n))
	}
	return nil
}

// --- Helpers ---

// normalizeEmail lowercases and trims an email for case-insensitive lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashValidator returns the hex-encoded SHA-256 of the validator secret.
// Only this hash is ever persisted.
func hashValidator(validator string) string {
	sum := sha256.Sum256([]byte(validator))
	return hex.EncodeToString(sum[:])
}

// randomHex returns n cryptographically random bytes, hex-encoded.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
