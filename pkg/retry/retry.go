// Package retry runs a resumable step once per task invocation and turns
// transient failures into retryable task errors for the host to act on.
//
// There is no in-process retry loop: a retryable failure is handed back to
// the host, which invokes the task again later. A step whose result was
// persisted by an earlier invocation is not run again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/golivy/pkg/poll"
	"github.com/3leaps/golivy/pkg/task"
	"github.com/3leaps/golivy/pkg/taskstate"
)

// DefaultInterval is the retry schedule when none is configured.
var DefaultInterval = poll.Interval{Min: time.Second, Max: 30 * time.Second}

// Retryable is implemented by errors that know they are transient.
type Retryable interface {
	Retryable() bool
}

// IsRetryable is the default predicate: err (or something it wraps) reports
// itself as retryable.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}

type Option func(*Executor)

// WithErrorMessage sets the message of retryable errors returned by the step.
func WithErrorMessage(format string, args ...any) Option {
	return func(e *Executor) { e.message = fmt.Sprintf(format, args...) }
}

func WithRetryInterval(i poll.Interval) Option {
	return func(e *Executor) { e.interval = i }
}

// RetryIf replaces the predicate that decides which errors are transient.
func RetryIf(pred func(error) bool) Option {
	return func(e *Executor) {
		if pred != nil {
			e.retryIf = pred
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// OnRetry is called with every retryable failure before it is returned.
func OnRetry(fn func(ctx context.Context, attempt int, after time.Duration, err error)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// Executor is a named step over task state.
//
// Persisted keys, relative to the task state it is given:
//
//	<step>.result  the step's value (RunOnce only)
//	<step>.retry   consecutive retryable failures, cleared on success
type Executor struct {
	state    taskstate.Store
	step     string
	message  string
	interval poll.Interval
	retryIf  func(error) bool
	onRetry  func(ctx context.Context, attempt int, after time.Duration, err error)
	logger   *zap.Logger
}

func New(state taskstate.Store, step string, opts ...Option) *Executor {
	e := &Executor{
		state:    state,
		step:     step,
		message:  fmt.Sprintf("step %s failed", step),
		interval: DefaultInterval,
		retryIf:  IsRetryable,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Step() string { return e.step }

func (e *Executor) resultKey() string { return e.step + ".result" }
func (e *Executor) retryKey() string  { return e.step + ".retry" }

// Attempts returns the number of consecutive retryable failures recorded
// for the step.
func (e *Executor) Attempts(ctx context.Context) (int, error) {
	var n int
	if _, err := taskstate.GetJSON(ctx, e.state, e.retryKey(), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// RunOnce returns the step's persisted result if an earlier invocation
// produced one. Otherwise it runs fn through Run and persists a successful
// result before returning it.
func RunOnce[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, state taskstate.Store) (T, error)) (T, error) {
	var zero T

	var cached T
	found, err := taskstate.GetJSON(ctx, e.state, e.resultKey(), &cached)
	if err != nil {
		return zero, err
	}
	if found {
		e.logger.Debug("step already completed", zap.String("step", e.step))
		return cached, nil
	}

	v, err := Run(ctx, e, fn)
	if err != nil {
		return zero, err
	}
	if err := taskstate.PutJSON(ctx, e.state, e.resultKey(), v); err != nil {
		return zero, err
	}
	return v, nil
}

// Run calls fn exactly once with the step's sub-scope of the task state.
//
// A retryable failure becomes a retryable *task.Error carrying the step
// message, the original error as cause, and a delay that grows with the
// number of consecutive failures. Any other failure is returned unchanged.
func Run[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, state taskstate.Store) (T, error)) (T, error) {
	var zero T

	v, err := fn(ctx, taskstate.Scope(e.state, e.step))
	if err == nil {
		if perr := e.resetAttempts(ctx); perr != nil {
			return zero, perr
		}
		return v, nil
	}

	if !e.retryIf(err) {
		return zero, err
	}

	attempts, aerr := e.Attempts(ctx)
	if aerr != nil {
		return zero, aerr
	}
	after := e.interval.ForAttempt(attempts)
	attempts++
	if perr := taskstate.PutJSON(ctx, e.state, e.retryKey(), attempts); perr != nil {
		return zero, perr
	}

	e.logger.Warn(e.message,
		zap.String("step", e.step),
		zap.Int("attempt", attempts),
		zap.Duration("retry_after", after),
		zap.Error(err),
	)
	if e.onRetry != nil {
		e.onRetry(ctx, attempts, after, err)
	}

	return zero, task.Retry(after, err, "%s", e.message)
}

func (e *Executor) resetAttempts(ctx context.Context) error {
	_, found, err := e.state.Get(ctx, e.retryKey())
	if err != nil || !found {
		return err
	}
	return taskstate.PutJSON(ctx, e.state, e.retryKey(), 0)
}
