package authgate

import "errors"

// Sentinel errors returned by the engine. Callers should match them
// with errors.Is; the engine never exposes which internal check failed
// beyond the sentinel itself.
var (
	// ErrEngineNotReady is returned when an operation is invoked on an
	// engine that was not constructed through Build or has been closed.
	ErrEngineNotReady = errors.New("authgate: engine not ready")

	// ErrInvalidCredentials covers every login failure mode: unknown
	// email, wrong password, and disabled account. Collapsing them into
	// one error keeps login responses free of account-enumeration
	// signals.
	ErrInvalidCredentials = errors.New("authgate: invalid credentials")

	// ErrUnauthorized is returned when a token fails verification.
	ErrUnauthorized = errors.New("authgate: unauthorized")

	// ErrForbidden is returned when an authenticated caller's role is
	// not in the allowed set for the operation.
	ErrForbidden = errors.New("authgate: forbidden")

	// ErrUserNotFound is returned when a user lookup by ID or email
	// finds nothing.
	ErrUserNotFound = errors.New("authgate: user not found")

	// ErrEmailExists is returned by Register when the email is already
	// taken.
	ErrEmailExists = errors.New("authgate: email already registered")

	// ErrTokenInvalidOrExpired covers unknown, expired, and
	// already-consumed single-use tokens as well as refresh tokens that
	// fail rotation. One error for all three keeps token probing blind.
	ErrTokenInvalidOrExpired = errors.New("authgate: token invalid or expired")

	// ErrAlreadyVerified is returned when a verification email is
	// requested for an account whose email is already verified.
	ErrAlreadyVerified = errors.New("authgate: email already verified")

	// ErrInvalidRole is returned when a role value is outside the
	// known set.
	ErrInvalidRole = errors.New("authgate: invalid role")

	// ErrStoreUnavailable wraps infrastructure failures from the
	// backing stores.
	ErrStoreUnavailable = errors.New("authgate: store unavailable")
)

var (
	errInvalidEmail = errors.New("authgate: invalid email address")
	errInvalidName  = errors.New("authgate: name required")
)
