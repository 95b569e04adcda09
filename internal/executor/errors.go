package executor

import (
	"errors"
	"fmt"
)

// RetryableError wraps a transient failure (DB hiccup, network timeout).
// The executor's retry policy does not consult it: every failed execution
// is retried while its retry count is below the manifest's MaxRetries and
// dead-lettered after that, whether or not it was wrapped with Transient.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable reports whether err (or anything it wraps) was marked
// retryable via Transient.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// PanicError records a recovered panic from a workflow step. A panic is
// handled like any other failure: retried while retries remain, then
// dead-lettered.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether err represents a recovered panic.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// Cancelled indicates the step chain observed a cancellation request and
// stopped cooperatively. Cancelled executions are never retried.
type Cancelled struct {
	Reason string
}

func (e Cancelled) Error() string {
	return fmt.Sprintf("execution cancelled: %s", e.Reason)
}

// IsCancelled reports whether err represents a cooperative cancellation.
func IsCancelled(err error) bool {
	var cancelled Cancelled
	return errors.As(err, &cancelled)
}
