// Package token encodes and verifies the self-contained access tokens used
// by the auth plugin. Tokens are HS256-signed JWTs carrying a numeric user
// id, issue/expiry times, and a "type" discriminator. The codec is a pure
// function of its signing secret plus a caller-supplied time source; it
// never touches storage.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TypeAccess is the claim value identifying short-lived access tokens.
// Other token kinds (refresh handles) never pass through this codec, but the
// discriminator keeps a future token kind from being replayed as an access
// token.
const TypeAccess = "access"

var (
	// ErrMalformed is returned when a token is not structurally a JWT or
	// carries claims that cannot be parsed.
	ErrMalformed = errors.New("token malformed")

	// ErrInvalidSignature is returned when the signature does not verify
	// against the codec's secret.
	ErrInvalidSignature = errors.New("token signature invalid")
)

// Claims is the access token payload. Times are unix seconds to match the
// wire format clients already depend on.
type Claims struct {
	Subject   int64  `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Type      string `json:"type"`
}

// The jwt.Claims interface. Only expiry/issued-at are meaningful here; the
// rest report empty values.

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return "", nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Codec signs and verifies access tokens with a process-wide secret.
// Safe for concurrent use; all fields are read-only after construction.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
	parser    *jwt.Parser
}

// NewCodec creates a codec from the configured signing secret and access
// token lifetime. An empty secret is a programming/configuration error and
// is rejected here so it can never become a per-request failure.
func NewCodec(secret string, accessTTL time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token codec requires a signing secret")
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("token codec requires a positive access TTL")
	}

	// Expiry is deliberately NOT validated during parsing. Callers own the
	// expiry check, which lets diagnostics inspect expired payloads.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	return &Codec{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		parser:    parser,
	}, nil
}

// IssueAccess mints a signed access token for the given user id. The expiry
// is now + the configured access TTL.
func (c *Codec) IssueAccess(subject int64, now time.Time) (string, error) {
	claims := Claims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.accessTTL).Unix(),
		Type:      TypeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and returns the payload. The signature
// is checked before any claim is trusted; claims from a token that fails
// verification are never returned. Expiry is not checked here -- that is the
// caller's job.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}
	return claims, nil
}
