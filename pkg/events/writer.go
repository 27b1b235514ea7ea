package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits task events.
//
// Implementations must be safe for concurrent use.
type Writer interface {
	WriteSubmitted(ctx context.Context, rec *SubmittedRecord) error
	WriteWaiting(ctx context.Context, rec *WaitingRecord) error
	WriteStatus(ctx context.Context, rec *StatusRecord) error
	WriteRetry(ctx context.Context, rec *RetryRecord) error
	WriteOutcome(ctx context.Context, rec *OutcomeRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// SetAttempt tags subsequent records with an invocation attempt id.
	SetAttempt(attempt string)

	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	taskID  string
	attempt string
	mu      sync.Mutex
	closed  bool
	now     func() time.Time
}

func NewJSONLWriter(w io.Writer, taskID string) *JSONLWriter {
	return &JSONLWriter{w: w, taskID: taskID, now: time.Now}
}

func (jw *JSONLWriter) SetAttempt(attempt string) {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.attempt = attempt
}

func (jw *JSONLWriter) WriteSubmitted(ctx context.Context, rec *SubmittedRecord) error {
	return jw.writeRecord(ctx, TypeSubmitted, rec)
}

func (jw *JSONLWriter) WriteWaiting(ctx context.Context, rec *WaitingRecord) error {
	return jw.writeRecord(ctx, TypeWaiting, rec)
}

func (jw *JSONLWriter) WriteStatus(ctx context.Context, rec *StatusRecord) error {
	return jw.writeRecord(ctx, TypeStatus, rec)
}

func (jw *JSONLWriter) WriteRetry(ctx context.Context, rec *RetryRecord) error {
	return jw.writeRecord(ctx, TypeRetry, rec)
}

func (jw *JSONLWriter) WriteOutcome(ctx context.Context, rec *OutcomeRecord) error {
	return jw.writeRecord(ctx, TypeOutcome, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// Close marks the writer as closed. The underlying io.Writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		TaskID:  jw.taskID,
		Attempt: jw.attempt,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may report a short write with a nil error.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// NopWriter discards every record.
type NopWriter struct{}

func (NopWriter) WriteSubmitted(context.Context, *SubmittedRecord) error { return nil }
func (NopWriter) WriteWaiting(context.Context, *WaitingRecord) error     { return nil }
func (NopWriter) WriteStatus(context.Context, *StatusRecord) error       { return nil }
func (NopWriter) WriteRetry(context.Context, *RetryRecord) error         { return nil }
func (NopWriter) WriteOutcome(context.Context, *OutcomeRecord) error     { return nil }
func (NopWriter) WriteError(context.Context, *ErrorRecord) error         { return nil }
func (NopWriter) SetAttempt(string)                                      {}
func (NopWriter) Close() error                                           { return nil }

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = NopWriter{}
)
