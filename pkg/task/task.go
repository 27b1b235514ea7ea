// Package task defines what a task invocation hands back to its host: a
// Result on success, or an *Error that says whether the host should invoke
// the task again.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Result is the successful outcome of a Livy batch task.
type Result struct {
	TaskID  string `json:"task_id,omitempty"`
	BatchID int    `json:"batch_id"`
	State   string `json:"state"`
	AppID   string `json:"app_id,omitempty"`
	LogURL  string `json:"log_url"`
}

// Error is a task failure classified for the host.
//
// A retryable Error asks the host to invoke the task again after RetryAfter;
// the persisted task state makes the next invocation resume where this one
// stopped. A fatal Error ends the task.
type Error struct {
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retry builds a retryable Error.
func Retry(after time.Duration, cause error, format string, args ...any) *Error {
	return &Error{
		Message:    fmt.Sprintf(format, args...),
		Retryable:  true,
		RetryAfter: after,
		Cause:      cause,
	}
}

// Fatal builds a non-retryable Error.
func Fatal(cause error, format string, args ...any) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsRetryable reports whether err carries a retryable *Error.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable
}

// RetryAfter returns the delay requested by a retryable *Error, or zero.
func RetryAfter(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) && te.Retryable {
		return te.RetryAfter
	}
	return 0
}
