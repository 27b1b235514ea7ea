package livy

import (
	"errors"
	"fmt"
	"net/url"
)

// Sentinel errors for batch operations.
var (
	// ErrTransport indicates the Livy server could not be reached.
	ErrTransport = errors.New("livy server is unreachable")

	// ErrProtocol indicates the Livy server answered with something that is
	// not a batch status record.
	ErrProtocol = errors.New("unexpected livy response")

	// ErrRemoteJobFailed indicates the batch finished in a failure state.
	ErrRemoteJobFailed = errors.New("livy batch failed")

	// ErrUnknownState indicates the batch reported a state outside the known set.
	ErrUnknownState = errors.New("unknown livy batch state")
)

// TransportError wraps a network-level failure (refused, reset, timeout).
type TransportError struct {
	// Op is the client operation ("submit" or "status").
	Op string

	// URL is the request URL with credentials redacted.
	URL string

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("livy %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport so callers can use errors.Is without losing the cause.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Retryable marks transport failures as transient.
func (e *TransportError) Retryable() bool { return true }

// ProtocolError reports a response that does not decode as a batch status
// record, including non-2xx answers.
type ProtocolError struct {
	Op         string
	URL        string
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string

	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("livy %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("livy %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Retryable marks protocol failures as transient: the server may be returning
// malformed output temporarily (a proxy error page, a restart in progress).
func (e *ProtocolError) Retryable() bool { return true }

// RemoteJobError reports a batch that ended in a failure state. It is fatal.
type RemoteJobError struct {
	ID    int
	State string
}

func (e *RemoteJobError) Error() string {
	return fmt.Sprintf("Livy batch id %d finished with status %s", e.ID, e.State)
}

func (e *RemoteJobError) Is(target error) bool { return target == ErrRemoteJobFailed }

// UnknownStateError reports a state label outside the known set. It is fatal:
// it means the server speaks a protocol version this client does not know.
type UnknownStateError struct {
	ID    int
	State string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown Livy batch state %q (batch id %d)", e.State, e.ID)
}

func (e *UnknownStateError) Is(target error) bool { return target == ErrUnknownState }

// IsTransport returns true if the error is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsProtocol returns true if the error is a protocol failure.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsRemoteJobFailed returns true if the batch ended in error or dead.
func IsRemoteJobFailed(err error) bool {
	return errors.Is(err, ErrRemoteJobFailed)
}

// IsUnknownState returns true if the batch reported an unrecognized state.
func IsUnknownState(err error) bool {
	return errors.Is(err, ErrUnknownState)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
