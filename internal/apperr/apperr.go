// Package apperr defines the closed set of error kinds the service
// returns across package boundaries. Callers branch with errors.Is
// and errors.As rather than matching message text.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both "row does not exist" and "row exists but is
// not owned by the requester"; the API deliberately does not reveal
// which.
var ErrNotFound = errors.New("not found")

// ValidationError marks malformed or out-of-policy input. Not
// retryable until the caller fixes the request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// QuotaExceededError rejects an admission that would push the user
// past their effective concurrency limit.
type QuotaExceededError struct {
	Active  int
	Limit   int
	Planned int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d active job(s), limit is %d, attempted to add %d",
		e.Active, e.Limit, e.Planned)
}

// DispatchError wraps a queue handoff failure. The job row was
// persisted and has been marked failed before this surfaces.
type DispatchError struct {
	JobID string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %s: %v", e.JobID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
