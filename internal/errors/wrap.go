package errors

import (
	"context"
	stderrors "errors"
)

// Error is an application error carrying a stable code for CLI exit paths
// and HTTP responses.
type Error struct {
	Code      string
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// WrapInternal tags err as an internal failure. The request id from ctx, if
// any, is kept for correlation.
func WrapInternal(ctx context.Context, err error, message string) *Error {
	e := &Error{Code: CodeInternal, Message: message, Err: err}
	if ctx != nil {
		e.RequestID = RequestID(ctx)
	}
	return e
}

// NewExternalServiceError reports a dependency golivy could not reach.
func NewExternalServiceError(message string) *Error {
	return &Error{Code: CodeServiceUnavailable, Message: message}
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
