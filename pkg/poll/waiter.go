package poll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/golivy/pkg/taskstate"
)

// DefaultInterval is used when no poll interval is configured.
var DefaultInterval = Interval{Min: time.Second, Max: 10 * time.Second}

// WaitStatus describes one unsuccessful poll.
type WaitStatus struct {
	Step      string
	Iteration int
	Elapsed   time.Duration
	Next      time.Duration
	Message   string
}

// Notifier is told about every poll that did not produce a result.
type Notifier interface {
	Waiting(ctx context.Context, status WaitStatus)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, status WaitStatus)

func (f NotifierFunc) Waiting(ctx context.Context, status WaitStatus) { f(ctx, status) }

// Option configures a Waiter.
type Option func(*Waiter)

func WithPollInterval(i Interval) Option {
	return func(w *Waiter) { w.interval = i.normalized() }
}

// WithWaitMessage sets the message logged and reported on every pending poll.
func WithWaitMessage(format string, args ...any) Option {
	return func(w *Waiter) { w.message = fmt.Sprintf(format, args...) }
}

func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(w *Waiter) { w.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Waiter) {
		if l != nil {
			w.logger = l
		}
	}
}

// Waiter is a resumable polling step.
//
// Persisted keys, relative to the task state it is given:
//
//	<step>.result    the value the check finally produced
//	<step>.progress  iteration count and time of the first poll
//
// The check function receives the sub-scope <step> for its own bookkeeping.
type Waiter struct {
	state    taskstate.Store
	step     string
	interval Interval
	message  string
	clock    Clock
	notifier Notifier
	logger   *zap.Logger
}

func NewWaiter(state taskstate.Store, step string, opts ...Option) *Waiter {
	w := &Waiter{
		state:    state,
		step:     step,
		interval: DefaultInterval,
		message:  fmt.Sprintf("still waiting on step %s", step),
		clock:    SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Progress is the bookkeeping persisted between polls.
type Progress struct {
	Iteration   int       `json:"iteration"`
	FirstPollAt time.Time `json:"first_poll_at"`
}

func (w *Waiter) resultKey() string   { return w.step + ".result" }
func (w *Waiter) progressKey() string { return w.step + ".progress" }

// LoadProgress returns the persisted progress, if any.
func (w *Waiter) LoadProgress(ctx context.Context) (Progress, bool, error) {
	var p Progress
	found, err := taskstate.GetJSON(ctx, w.state, w.progressKey(), &p)
	return p, found, err
}

// AwaitOnce calls check until it reports done, sleeping an adaptive interval
// between calls.
//
// A result already persisted by an earlier invocation is returned without
// calling check. Errors from check are returned unchanged and end the wait;
// polling progress stays persisted so a re-invoked task keeps its place in
// the backoff schedule.
func AwaitOnce[T any](ctx context.Context, w *Waiter, check func(ctx context.Context, state taskstate.Store) (T, bool, error)) (T, error) {
	var zero T

	var cached T
	found, err := taskstate.GetJSON(ctx, w.state, w.resultKey(), &cached)
	if err != nil {
		return zero, err
	}
	if found {
		w.logger.Debug("step already completed", zap.String("step", w.step))
		return cached, nil
	}

	progress, _, err := w.LoadProgress(ctx)
	if err != nil {
		return zero, err
	}

	scope := taskstate.Scope(w.state, w.step)
	for {
		v, done, err := check(ctx, scope)
		if err != nil {
			return zero, err
		}
		if done {
			if err := taskstate.PutJSON(ctx, w.state, w.resultKey(), v); err != nil {
				return zero, err
			}
			return v, nil
		}

		now := w.clock.Now()
		if progress.FirstPollAt.IsZero() {
			progress.FirstPollAt = now.UTC()
		}
		progress.Iteration++
		if err := taskstate.PutJSON(ctx, w.state, w.progressKey(), progress); err != nil {
			return zero, err
		}

		elapsed := now.Sub(progress.FirstPollAt)
		if elapsed < 0 {
			elapsed = 0
		}
		next := w.interval.Next(elapsed)
		status := WaitStatus{
			Step:      w.step,
			Iteration: progress.Iteration,
			Elapsed:   elapsed,
			Next:      next,
			Message:   w.message,
		}
		w.logger.Info(w.message,
			zap.String("step", w.step),
			zap.Int("iteration", status.Iteration),
			zap.Duration("elapsed", elapsed),
			zap.Duration("next_poll", next),
		)
		if w.notifier != nil {
			w.notifier.Waiting(ctx, status)
		}

		if err := w.clock.Sleep(ctx, next); err != nil {
			return zero, err
		}
	}
}
