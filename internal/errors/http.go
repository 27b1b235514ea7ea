// Package errors writes golivy's HTTP error bodies. Each body carries a
// flat error object and the equivalent gofulmen error envelope.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeBadRequest         = "BAD_REQUEST"
)

type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`

	// Envelope is the gofulmen error envelope of the same failure. It is
	// decoded as a generic map on the client side.
	Envelope any `json:"envelope,omitempty"`
}

// StatusError carries an HTTP status and code through an error chain.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *StatusError) Error() string { return e.Message }

type requestIDKey struct{}

// WithRequestID stores id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewResponse builds the body for code and message.
func NewResponse(code, message, requestID string, details map[string]any) HTTPErrorResponse {
	env := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(details) > 0 {
		if withCtx, err := env.WithContext(details); err == nil {
			env = withCtx
		}
	}
	return HTTPErrorResponse{
		Error: HTTPError{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
		Envelope: env,
	}
}

// Write sends an error response.
func Write(w http.ResponseWriter, status int, resp HTTPErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RespondWithError maps err onto a response. A *StatusError keeps its
// status and code; anything else is a 500.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := http.StatusInternalServerError, CodeInternal, "internal error"
	var details map[string]any
	var se *StatusError
	if stderrors.As(err, &se) {
		status, code, msg, details = se.Status, se.Code, se.Message, se.Details
	} else if err != nil {
		msg = err.Error()
	}
	Write(w, status, NewResponse(code, msg, RequestID(r.Context()), details))
}
