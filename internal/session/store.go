// Package session provides the anonymous browser session backing the CSRF
// guard. A session is a random identifier stored in an HTTP-only cookie and
// a small JSON document in Redis. The only state the core keeps per session
// is the CSRF token; it is created lazily on first use and lives for the
// session's lifetime.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix is the Redis key prefix for session data.
const keyPrefix = "session:"

// idBytes is the number of random bytes in a session identifier.
const idBytes = 32

// csrfTokenBytes is the number of random bytes in a CSRF token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const csrfTokenBytes = 32

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session not found")

// Session is the per-browser state stored in Redis. The session id is the
// key; this struct is the JSON-encoded value.
type Session struct {
	ID        string    `json:"-"`
	CSRFToken string    `json:"csrf_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions in Redis with a fixed TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a session store backed by the given Redis client.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Create generates a new session with a random id and persists it.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	id, err := randomHex(idBytes)
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	sess := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by id. Returns ErrNotFound for unknown or expired ids.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}

	sess := &Session{ID: id}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return sess, nil
}

// TokenFor returns the session's CSRF token, creating and persisting one on
// first call. Subsequent calls return the same token.
func (s *Store) TokenFor(ctx context.Context, sess *Session) (string, error) {
	if sess.CSRFToken != "" {
		return sess.CSRFToken, nil
	}

	tok, err := randomHex(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}

	sess.CSRFToken = tok
	if err := s.save(ctx, sess); err != nil {
		return "", err
	}
	return tok, nil
}

// Destroy removes a session, invalidating its CSRF token.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session from redis: %w", err)
	}
	return nil
}

// save writes the session JSON to Redis, resetting the TTL.
func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing session in redis: %w", err)
	}
	return nil
}

// randomHex returns n cryptographically random bytes, hex-encoded.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
