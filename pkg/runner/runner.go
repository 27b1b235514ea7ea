// Package runner is the host side of a golivy task: it invokes the task,
// honours retryable failures by sleeping and invoking again, and records
// every invocation in the task registry and the event stream.
package runner

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/poll"
	"github.com/3leaps/golivy/pkg/task"
	"github.com/3leaps/golivy/pkg/taskregistry"
)

// Invoker is one invocation of a task. *operator.Operator implements it.
type Invoker interface {
	Run(ctx context.Context) (*task.Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context) (*task.Result, error)

func (f InvokerFunc) Run(ctx context.Context) (*task.Result, error) { return f(ctx) }

// OutcomeMetrics receives the final result of every task run.
type OutcomeMetrics interface {
	RecordOutcome(ctx context.Context, result string, d time.Duration)
}

type nopOutcomeMetrics struct{}

func (nopOutcomeMetrics) RecordOutcome(context.Context, string, time.Duration) {}

// Config controls a Runner.
type Config struct {
	TaskID string
	Name   string

	// MaxAttempts stops after that many invocations when > 0.
	MaxAttempts int

	// Once performs a single invocation and reports a retryable failure
	// to the caller instead of sleeping.
	Once bool

	// Recorder mirrors progress into the task registry. Optional.
	Recorder *taskregistry.Recorder

	// HeartbeatInterval defaults to taskregistry.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	Events  events.Writer
	Metrics OutcomeMetrics
	Clock   poll.Clock

	// Logger is expected to carry the task_id field already.
	Logger *zap.Logger
}

// Outcome summarizes a run.
type Outcome struct {
	Result      string
	Task        *task.Result
	Err         error
	Invocations int
	RetryAfter  time.Duration
	Duration    time.Duration
}

type Runner struct {
	cfg     Config
	events  *registryEvents
	metrics OutcomeMetrics
	clock   poll.Clock
	logger  *zap.Logger
}

func New(cfg Config) *Runner {
	r := &Runner{cfg: cfg, metrics: cfg.Metrics, clock: cfg.Clock, logger: cfg.Logger}
	var w events.Writer = events.NopWriter{}
	if cfg.Events != nil {
		w = cfg.Events
	}
	r.events = &registryEvents{Writer: w, recorder: cfg.Recorder}
	if r.metrics == nil {
		r.metrics = nopOutcomeMetrics{}
	}
	if r.clock == nil {
		r.clock = poll.SystemClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Events is the writer invokers should emit to. It forwards every record
// and mirrors batch progress into the task registry.
func (r *Runner) Events() events.Writer {
	return r.events
}

// Run invokes inv until it succeeds, fails fatally, the context ends, or
// the attempt budget is spent. The returned error is the last invocation's
// error, if any.
func (r *Runner) Run(ctx context.Context, inv Invoker) (*Outcome, error) {
	start := r.clock.Now()
	out := &Outcome{}

	r.update(func(rec *taskregistry.TaskRecord) {
		rec.PID = os.Getpid()
		if rec.StartedAt == nil {
			now := start.UTC()
			rec.StartedAt = &now
		}
	})
	stop := r.cfg.Recorder.StartHeartbeat(ctx, r.cfg.HeartbeatInterval)
	defer stop()

	for {
		out.Invocations++
		attemptID := uuid.NewString()
		r.events.SetAttempt(attemptID)
		r.update(func(rec *taskregistry.TaskRecord) {
			rec.Attempts++
			rec.AttemptID = attemptID
			rec.NextAttemptAt = nil
			if rec.State == taskregistry.TaskStateQueued || rec.State == taskregistry.TaskStateRetrying || rec.State == "" {
				rec.State = taskregistry.TaskStateRunning
			}
		})

		logger := r.logger.With(zap.Int("invocation", out.Invocations), zap.String("attempt", attemptID))
		logger.Debug("Invoking task")

		res, err := inv.Run(ctx)
		if err == nil {
			out.Result = events.ResultSuccess
			out.Task = res
			out.Err = nil
			return r.finish(ctx, out, start), nil
		}
		out.Err = err

		if ctx.Err() != nil {
			out.Result = events.ResultInterrupted
			return r.finish(ctx, out, start), err
		}

		if !task.IsRetryable(err) {
			out.Result = events.ResultFailed
			_ = r.events.WriteError(ctx, &events.ErrorRecord{Code: ErrorCode(err), Message: err.Error()})
			return r.finish(ctx, out, start), err
		}

		after := task.RetryAfter(err)
		out.RetryAfter = after
		_ = r.events.WriteRetry(ctx, &events.RetryRecord{
			Invocation:   out.Invocations,
			RetryAfterMs: after.Milliseconds(),
			Message:      err.Error(),
		})
		next := r.clock.Now().Add(after).UTC()
		r.update(func(rec *taskregistry.TaskRecord) {
			rec.State = taskregistry.TaskStateRetrying
			rec.LastError = err.Error()
			rec.NextAttemptAt = &next
		})

		if r.cfg.Once || (r.cfg.MaxAttempts > 0 && out.Invocations >= r.cfg.MaxAttempts) {
			out.Result = events.ResultRetryable
			return r.finish(ctx, out, start), err
		}

		logger.Warn("Task invocation failed, invoking again",
			zap.Duration("retry_after", after),
			zap.Error(err),
		)
		if serr := r.clock.Sleep(ctx, after); serr != nil {
			out.Result = events.ResultInterrupted
			return r.finish(ctx, out, start), err
		}
	}
}

func (r *Runner) finish(ctx context.Context, out *Outcome, start time.Time) *Outcome {
	out.Duration = r.clock.Now().Sub(start)

	rec := &events.OutcomeRecord{
		Result:      out.Result,
		Invocations: out.Invocations,
		DurationMs:  out.Duration.Milliseconds(),
	}
	if out.Task != nil {
		rec.BatchID = out.Task.BatchID
		rec.State = out.Task.State
		rec.AppID = out.Task.AppID
		rec.LogURL = out.Task.LogURL
	}
	if out.Err != nil {
		rec.Message = out.Err.Error()
	}
	// outcome records must survive a cancelled run context
	_ = r.events.WriteOutcome(context.WithoutCancel(ctx), rec)
	r.metrics.RecordOutcome(context.WithoutCancel(ctx), out.Result, out.Duration)

	r.update(func(tr *taskregistry.TaskRecord) {
		switch out.Result {
		case events.ResultSuccess:
			tr.State = taskregistry.TaskStateSuccess
			tr.LastError = ""
		case events.ResultFailed:
			tr.State = taskregistry.TaskStateFailed
		case events.ResultInterrupted:
			tr.State = taskregistry.TaskStateInterrupted
		case events.ResultRetryable:
			tr.State = taskregistry.TaskStateRetrying
		}
		if out.Task != nil {
			id := out.Task.BatchID
			tr.BatchID = &id
			tr.AppID = out.Task.AppID
			tr.LogURL = out.Task.LogURL
			tr.LivyState = out.Task.State
		}
		if out.Err != nil {
			tr.LastError = out.Err.Error()
		}
		if out.Result != events.ResultRetryable {
			now := r.clock.Now().UTC()
			tr.EndedAt = &now
			tr.NextAttemptAt = nil
		}
	})

	fields := []zap.Field{
		zap.String("result", out.Result),
		zap.Int("invocations", out.Invocations),
		zap.Duration("duration", out.Duration),
	}
	switch out.Result {
	case events.ResultSuccess:
		r.logger.Info("Task finished", fields...)
	case events.ResultRetryable:
		r.logger.Warn("Task needs another invocation", append(fields, zap.Duration("retry_after", out.RetryAfter), zap.Error(out.Err))...)
	default:
		r.logger.Error("Task did not succeed", append(fields, zap.Error(out.Err))...)
	}
	return out
}

func (r *Runner) update(fn func(rec *taskregistry.TaskRecord)) {
	if r.cfg.Recorder == nil {
		return
	}
	if err := r.cfg.Recorder.Update(fn); err != nil {
		r.logger.Warn("Failed to update task registry", zap.Error(err))
	}
}

// IsInterrupted reports whether err stems from a cancelled or expired
// context.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
