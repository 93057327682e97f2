package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RefreshTokenRepository defines the data access contract for refresh token
// records. A record is identified by its public selector; the validator is
// stored only as a SHA-256 hash.
type RefreshTokenRepository interface {
	Create(ctx context.Context, userID int64, selector, validatorHash string, expiresAt int64) error

	// Consume atomically removes the record for the given selector and
	// returns its fields. The single delete-and-return statement is the
	// critical section that keeps two concurrent redemptions of the same
	// selector from both succeeding. Returns ErrRefreshNotFound when no
	// record exists.
	Consume(ctx context.Context, selector string) (userID int64, validatorHash string, expiresAt int64, err error)

	// DeleteByUser revokes all outstanding refresh tokens for a user.
	DeleteByUser(ctx context.Context, userID int64) error

	// DeleteExpired sweeps records whose expiry has passed. Returns the
	// number of rows removed.
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

// refreshTokenRepository implements RefreshTokenRepository on MariaDB.
type refreshTokenRepository struct {
	db *sql.DB
}

// NewRefreshTokenRepository creates a refresh token repository backed by the
// given DB pool.
func NewRefreshTokenRepository(db *sql.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

// Create inserts a new refresh token record.
func (r *refreshTokenRepository) Create(ctx context.Context, userID int64, selector, validatorHash string, expiresAt int64) error {
	query := `INSERT INTO refresh_tokens (user_id, selector, validator_hash, expires_at)
	          VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, userID, selector, validatorHash, expiresAt)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	return nil
}

// Consume deletes the record for selector and returns its fields in one
// statement. MariaDB's DELETE ... RETURNING makes lookup-and-burn atomic:
// of two concurrent redemptions, exactly one sees the row, the other gets
// ErrRefreshNotFound.
func (r *refreshTokenRepository) Consume(ctx context.Context, selector string) (int64, string, int64, error) {
	query := `DELETE FROM refresh_tokens WHERE selector = ?
	          RETURNING user_id, validator_hash, expires_at`

	var (
		userID        int64
		validatorHash string
		expiresAt     int64
	)
	err := r.db.QueryRowContext(ctx, query, selector).Scan(&userID, &validatorHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", 0, ErrRefreshNotFound
	}
	if err != nil {
		return 0, "", 0, fmt.Errorf("consuming refresh token: %w", err)
	}

	return userID, validatorHash, expiresAt, nil
}

// DeleteByUser removes all refresh tokens belonging to a user.
func (r *refreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting refresh tokens for user: %w", err)
	}
	return nil
}

// DeleteExpired removes all records whose expiry has passed.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired refresh tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept refresh tokens: %w", err)
	}
	return n, nil
}
