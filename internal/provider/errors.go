package provider

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when the local limiter refuses a call. It is
// distinguishable from provider failures so the queue worker reschedules
// instead of dead-lettering.
type RateLimitedError struct {
	Operation string
	ResetAt   time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s until %s", e.Operation, e.ResetAt.Format(time.RFC3339))
}

// TransientError wraps failures worth retrying: timeouts, 5xx, 429 and
// network errors.
type TransientError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error on %s (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that will not succeed on retry: 404 on a
// subscription or message, 401/403 auth failures.
type PermanentError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error on %s (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a local rate limiter refusal.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err is a permanent 404.
func IsNotFound(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) && pe.StatusCode == 404
}
