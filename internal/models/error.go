package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrAccountLocked    = errors.New("account is temporarily locked")
	ErrEmailNotVerified = errors.New("email address not verified")

	// Guard denials surfaced as errors by callers that cannot carry a
	// structured result (the guards themselves return results, not errors)
	ErrQuotaExceeded     = errors.New("daily email quota exceeded")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrTokenRevoked      = errors.New("token has been revoked")

	// ErrStoreUnavailable is returned by fail-closed guards when the
	// backing store cannot be reached. Fail-open guards log and proceed.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
