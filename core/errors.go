package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown task or session id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState reports an operation that the current state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrCancellationRequested is the internal cooperative cancellation signal.
	// It is converted into a cancelled event and never surfaced as an error.
	ErrCancellationRequested = errors.New("cancellation requested")
)

// Error codes carried by error events.
const (
	CodeNotFound         = "not_found"
	CodeInvalidState     = "invalid_state"
	CodeExecutionFailure = "execution_failure"
	CodeCancelled        = "cancelled"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

// ExecutionError wraps a failure raised by the Responder.
type ExecutionError struct {
	TaskID string
	Err    error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of task %s failed: %v", e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err unless it already is an ExecutionError.
func NewExecutionError(taskID string, err error) error {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{TaskID: taskID, Err: err}
}

// RequestError reports a request rejected at the boundary.
type RequestError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// IsCancellation reports whether err stems from cooperative cancellation or
// from the caller's context going away.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancellationRequested) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorCode maps an error to the code used in events.
func ErrorCode(err error) string {
	var (
		ee *ExecutionError
		re *RequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case IsCancellation(err):
		return CodeCancelled
	case errors.As(err, &re):
		return CodeInvalidRequest
	case errors.As(err, &ee):
		return CodeExecutionFailure
	default:
		return CodeInternal
	}
}
