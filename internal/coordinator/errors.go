package coordinator

import (
	"errors"
	"fmt"
)

// ReplicationError represents a failure raised while coordinating
// replicators.
//
// Replication errors include:
//   - Hook failures: a replicator hook returned an error on the transition
//     or dispatch path
//   - Invalid initial state: a replicator answered a whole-state request
//     with something other than an object
//   - Not ready: an operation that requires readiness was attempted early
type ReplicationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Replicator names the replicator involved, if any.
	Replicator string

	// Hook names the hook that failed (for HOOK_FAILED).
	Hook string

	// Field is the state field involved, if any.
	Field string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes replication errors.
type ErrorCode string

const (
	// ErrCodeHookFailed indicates a replicator hook returned an error.
	ErrCodeHookFailed ErrorCode = "HOOK_FAILED"

	// ErrCodeInvalidInitialState indicates a malformed initial-state response.
	ErrCodeInvalidInitialState ErrorCode = "INVALID_INITIAL_STATE"

	// ErrCodeNotReady indicates the coordinator has not finished hydrating.
	ErrCodeNotReady ErrorCode = "NOT_READY"
)

// Error implements the error interface.
func (e *ReplicationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Replicator != "" && e.Field != "" {
		msg = fmt.Sprintf("%s (replicator=%s, field=%s)", msg, e.Replicator, e.Field)
	} else if e.Replicator != "" {
		msg = fmt.Sprintf("%s (replicator=%s)", msg, e.Replicator)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// IsHookError returns true if the error is a replicator hook failure.
// Uses errors.As to handle wrapped errors.
func IsHookError(err error) bool {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Code == ErrCodeHookFailed
	}
	return false
}

// IsInvalidInitialState returns true if a replicator supplied an unusable
// initial state.
func IsInvalidInitialState(err error) bool {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvalidInitialState
	}
	return false
}

// IsNotReady returns true if the error reports a coordinator that has not
// finished hydrating.
func IsNotReady(err error) bool {
	var re *ReplicationError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNotReady
	}
	return false
}

// newHookError wraps an error returned by a replicator hook.
func newHookError(replicator, hook, field string, err error) *ReplicationError {
	return &ReplicationError{
		Code:       ErrCodeHookFailed,
		Message:    hook + " failed",
		Replicator: replicator,
		Hook:       hook,
		Field:      field,
		Err:        err,
	}
}

// newInvalidInitialStateError reports a whole-state response that is not an
// object.
func newInvalidInitialStateError(replicator string, got any) *ReplicationError {
	return &ReplicationError{
		Code:       ErrCodeInvalidInitialState,
		Message:    fmt.Sprintf("whole-state initial state must be an object, got %T", got),
		Replicator: replicator,
	}
}
