package auth

import "errors"

// Refresh redemption failures. These are deliberately distinct: NotFound
// means the handle was never issued or already consumed (the client must
// re-authenticate), while ValidatorMismatch means someone presented a
// correct selector with the wrong secret half -- a possible theft indicator
// that earns a security log line. All of them end the same way for the
// client: the old handle is dead.
var (
	// ErrRefreshMalformed is returned when a handle is not exactly
	// "selector:validator".
	ErrRefreshMalformed = errors.New("refresh token malformed")

	// ErrRefreshNotFound is returned when no record exists for the
	// selector. Replays of a consumed token always land here.
	ErrRefreshNotFound = errors.New("refresh token not found")

	// ErrRefreshExpired is returned when the record existed but its expiry
	// had passed. The record is still burned.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrValidatorMismatch is returned when the validator's hash does not
	// match the stored hash. The record is still burned.
	ErrValidatorMismatch = errors.New("refresh token validator mismatch")
)
