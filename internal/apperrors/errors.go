// Package apperrors defines the typed failures of the lifecycle service.
// Every error returned by the service wraps exactly one sentinel, so callers
// classify with errors.Is and decide whether a retry can succeed.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyBound      = errors.New("runtime environment already bound")
	ErrConcurrentUpdate  = errors.New("concurrent update")
	ErrUnavailable       = errors.New("persistence unavailable")
	ErrInternal          = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "status_message")
	Resource string // Record kind (e.g., "job", "job_request")
	ID       string // Record id, when known
	Op       string // Operation that failed (e.g., "store.updateJob")
	Cause    error  // Underlying driver error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a record.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
		ID:       id,
	}
}

// DuplicateID reports that a record with the same id already exists.
func DuplicateID(resource, id string) error {
	return &Error{
		Sentinel: ErrDuplicateID,
		Message:  fmt.Sprintf("%s %s already exists", resource, id),
		Resource: resource,
		ID:       id,
	}
}

// InvalidTransition reports a status change the state machine forbids.
func InvalidTransition(id, from, to string) error {
	return &Error{
		Sentinel: ErrInvalidTransition,
		Message:  fmt.Sprintf("job %s cannot move from %s to %s", id, from, to),
		Resource: "job",
		ID:       id,
	}
}

// InvalidState reports that a record exists but its state forbids the mutation.
func InvalidState(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrInvalidState,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
		ID:       id,
	}
}

// AlreadyBound reports a second attempt to bind a job's runtime environment.
func AlreadyBound(id string) error {
	return &Error{
		Sentinel: ErrAlreadyBound,
		Message:  fmt.Sprintf("job %s already has a runtime environment", id),
		Resource: "job",
		ID:       id,
	}
}

// ConcurrentUpdate reports a lost race against another writer.
func ConcurrentUpdate(op string, cause error) error {
	return &Error{
		Sentinel: ErrConcurrentUpdate,
		Message:  fmt.Sprintf("%s: concurrent update: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Unavailable reports an unreachable or timed out storage engine.
func Unavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s: persistence unavailable: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrUnavailable)
}

// Kind returns a stable, low-cardinality label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyBound):
		return "already_bound"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
