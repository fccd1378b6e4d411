package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds from the error handling design (spec §7). Callers
// use errors.Is against these, never string comparison.
var (
	// ErrVersionConflict signals the ledger store rejected a conditional
	// write because the version token no longer matched. Retryable locally.
	ErrVersionConflict = errors.New("core: version conflict")

	// ErrTransientFailure signals a retryable failure: 5xx, 429, timeout,
	// or network error from a downstream dependency.
	ErrTransientFailure = errors.New("core: transient failure")

	// ErrPermanentFailure signals a non-retryable downstream failure: a
	// 4xx other than 429/401, or a malformed response.
	ErrPermanentFailure = errors.New("core: permanent failure")

	// ErrNotOwner signals the caller does not hold the session lease for
	// a user. Not treated as an error by callers; a silent no-op.
	ErrNotOwner = errors.New("core: not session owner")

	// ErrValidation signals a malformed envelope or request. Discarded at
	// ingress, never retried.
	ErrValidation = errors.New("core: validation error")

	// ErrSignatureMismatch signals an HMAC signature that does not match
	// the recomputed value.
	ErrSignatureMismatch = errors.New("core: signature mismatch")
)

func wrapValidation(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// TransientError wraps an underlying cause (network error, 5xx body, etc.)
// while remaining matchable via errors.Is(err, ErrTransientFailure).
type TransientError struct {
	Cause      error
	RetryAfter string // raw Retry-After header value, if any
}

func (e *TransientError) Error() string {
	if e.Cause == nil {
		return ErrTransientFailure.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTransientFailure.Error(), e.Cause)
}

func (e *TransientError) Unwrap() error { return ErrTransientFailure }

// PermanentError wraps an underlying cause while remaining matchable via
// errors.Is(err, ErrPermanentFailure).
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause == nil {
		return ErrPermanentFailure.Error()
	}
	return fmt.Sprintf("%s: %v", ErrPermanentFailure.Error(), e.Cause)
}

func (e *PermanentError) Unwrap() error { return ErrPermanentFailure }
