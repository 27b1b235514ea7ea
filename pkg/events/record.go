// Package events provides the JSONL event stream of a golivy task.
//
// Each line is a self-contained typed envelope, so an orchestrator can tail
// the stream and follow submission, polling and the final outcome.
package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern golivy.<type>.v<version>.
const (
	// TypeSubmitted is emitted once the batch has an id.
	TypeSubmitted = "golivy.submitted.v1"

	// TypeWaiting is emitted for every poll that found the batch pending.
	TypeWaiting = "golivy.waiting.v1"

	// TypeStatus carries each status observed from Livy.
	TypeStatus = "golivy.status.v1"

	// TypeRetry is emitted when an invocation ends with a retryable error.
	TypeRetry = "golivy.retry.v1"

	// TypeOutcome is the final record of a task.
	TypeOutcome = "golivy.outcome.v1"

	TypeError = "golivy.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	TaskID  string          `json:"task_id"`
	Attempt string          `json:"attempt,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type SubmittedRecord struct {
	Name    string `json:"name"`
	BatchID int    `json:"batch_id"`
	State   string `json:"state"`
	LogURL  string `json:"log_url"`

	// Resumed is true when the batch id came from persisted task state
	// rather than a new submission.
	Resumed bool `json:"resumed,omitempty"`
}

type WaitingRecord struct {
	BatchID    int    `json:"batch_id"`
	Iteration  int    `json:"iteration"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	NextPollMs int64  `json:"next_poll_ms"`
	Message    string `json:"message"`
}

type StatusRecord struct {
	BatchID int    `json:"batch_id"`
	State   string `json:"state"`
	Phase   string `json:"phase"`
	AppID   string `json:"app_id,omitempty"`
}

type RetryRecord struct {
	Step         string `json:"step,omitempty"`
	Invocation   int    `json:"invocation"`
	RetryAfterMs int64  `json:"retry_after_ms"`
	Message      string `json:"message"`
}

// OutcomeRecord is the terminal record of a task.
type OutcomeRecord struct {
	Result      string `json:"result"`
	BatchID     int    `json:"batch_id,omitempty"`
	State       string `json:"state,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	LogURL      string `json:"log_url,omitempty"`
	Invocations int    `json:"invocations"`
	DurationMs  int64  `json:"duration_ms"`
	Message     string `json:"message,omitempty"`
}

// Outcome results.
const (
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultRetryable   = "retryable"
	ResultInterrupted = "interrupted"
)

type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeConfig    = "CONFIG"
	ErrCodeTransport = "TRANSPORT"
	ErrCodeProtocol  = "PROTOCOL"
	ErrCodeRemoteJob = "REMOTE_JOB_FAILED"
	ErrCodeState     = "STATE"
	ErrCodeInternal  = "INTERNAL"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("events: writer is closed")

// WriteError wraps failures to marshal or write a record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return "events: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
