package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorization indicates health-store permission is missing or has
	// been revoked. It halts the whole pipeline until re-granted.
	ErrAuthorization = errors.New("health store authorization missing or revoked")
	// ErrConflict is the backend's duplicate-record response. Callers treat
	// it as success: the record is already there.
	ErrConflict = errors.New("record already exists on backend")
	// ErrSubscriptionExpired signals an expired or missing-zone
	// subscription; the remedy is re-registration, not failure.
	ErrSubscriptionExpired = errors.New("change subscription expired")
)

// ValidationError rejects a malformed event before any ledger or queue entry
// is created.
type ValidationError struct {
	ActivityID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event %s: %s", e.ActivityID, e.Reason)
}

// TransientError wraps a failure worth retrying with backoff (network,
// backend busy, rate limit).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// QuotaOrPermissionError is non-retryable: the entry is parked as
// permanently failed and surfaced until dismissed.
type QuotaOrPermissionError struct {
	Op  string
	Err error
}

func (e *QuotaOrPermissionError) Error() string {
	return fmt.Sprintf("non-retryable failure in %s: %v", e.Op, e.Err)
}

func (e *QuotaOrPermissionError) Unwrap() error { return e.Err }

// IsTransient reports whether err should go through the retry loop.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNonRetryable reports whether err permanently fails its queue entry.
func IsNonRetryable(err error) bool {
	var qe *QuotaOrPermissionError
	return errors.As(err, &qe)
}
