// Package operator runs one Livy batch task end to end: resolve the
// connection, submit the batch at most once, then poll it to a terminal
// state.
//
// Every step keeps its progress in the task state, so the host may invoke
// Run again after any retryable failure or crash and the task resumes where
// it stopped.
package operator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/livy"
	"github.com/3leaps/golivy/pkg/poll"
	"github.com/3leaps/golivy/pkg/retry"
	"github.com/3leaps/golivy/pkg/task"
	"github.com/3leaps/golivy/pkg/taskstate"
)

// Step names, which are also task state key prefixes.
const (
	StepStart   = "start"
	StepRunning = "running"
	StepCheck   = "check"
)

var (
	// PollInterval is the adaptive interval between status polls.
	PollInterval = poll.Interval{Min: time.Second, Max: 10 * time.Second}

	// CheckRetryInterval is the retry delay after a failed status request.
	CheckRetryInterval = poll.Fixed(15 * time.Second)
)

// BatchClient is the part of *livy.Client the operator uses.
type BatchClient interface {
	Submit(ctx context.Context, req *livy.BatchRequest) (*livy.Batch, error)
	FetchStatus(ctx context.Context, id int) (*livy.Batch, error)
}

// ClientFactory builds a client for a resolved connection.
type ClientFactory func(conn ConnectionConfig) BatchClient

// Metrics receives per-request observations.
type Metrics interface {
	RecordSubmission(ctx context.Context, err error)
	RecordStatusPoll(ctx context.Context, state string, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordSubmission(context.Context, error)         {}
func (nopMetrics) RecordStatusPoll(context.Context, string, error) {}

type Option func(*Operator)

// WithSystemConfig sets the config.livy.* fallback source.
func WithSystemConfig(sys *SystemConfig) Option {
	return func(o *Operator) { o.system = sys }
}

func WithClientFactory(f ClientFactory) Option {
	return func(o *Operator) {
		if f != nil {
			o.newClient = f
		}
	}
}

// WithRateLimit caps Livy requests per second for the default client.
func WithRateLimit(perSecond float64) Option {
	return func(o *Operator) { o.rateLimit = perSecond }
}

func WithEvents(w events.Writer) Option {
	return func(o *Operator) {
		if w != nil {
			o.events = w
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Operator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithClock(c poll.Clock) Option {
	return func(o *Operator) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Operator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Operator is a single Livy batch task.
type Operator struct {
	taskID  string
	params  Params
	secrets Secrets
	state   taskstate.Store

	system    *SystemConfig
	newClient ClientFactory
	rateLimit float64
	events    events.Writer
	metrics   Metrics
	clock     poll.Clock
	logger    *zap.Logger
}

func New(taskID string, params Params, secrets Secrets, state taskstate.Store, opts ...Option) *Operator {
	if secrets == nil {
		secrets = NoSecrets
	}
	o := &Operator{
		taskID:  taskID,
		params:  params,
		secrets: secrets,
		state:   state,
		events:  events.NopWriter{},
		metrics: nopMetrics{},
		clock:   poll.SystemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.newClient == nil {
		o.newClient = o.defaultClient
	}
	return o
}

func (o *Operator) defaultClient(conn ConnectionConfig) BatchClient {
	return livy.NewClient(conn.Endpoint(), livy.Options{
		ConnectTimeout: conn.ConnectTimeout,
		ReadTimeout:    conn.ReadTimeout,
		WriteTimeout:   conn.WriteTimeout,
		RateLimit:      o.rateLimit,
		Logger:         o.logger,
	})
}

// Run performs one invocation of the task.
//
// On success it returns the final batch. A retryable *task.Error asks the
// host to call Run again later; any other error is fatal.
func (o *Operator) Run(ctx context.Context) (*task.Result, error) {
	conn, err := ResolveConnection(o.params, o.secrets, o.system)
	if err != nil {
		return nil, err
	}
	req, err := BuildBatchRequest(o.params)
	if err != nil {
		return nil, err
	}

	client := o.newClient(conn)
	display := conn.DisplayEndpoint()
	name := req.DisplayName()
	logger := o.logger.With(zap.String("endpoint", display), zap.String("job", name))

	submitted := false
	submitter := retry.New(o.state, StepStart,
		retry.WithErrorMessage("Livy job submission failed: %s", name),
		retry.WithLogger(logger),
	)
	batch, err := retry.RunOnce(ctx, submitter, func(ctx context.Context, _ taskstate.Store) (*livy.Batch, error) {
		logger.Info("Submitting Livy job")
		b, err := client.Submit(ctx, req)
		o.metrics.RecordSubmission(ctx, err)
		if err != nil {
			return nil, err
		}
		submitted = true
		logger.Info("Successfully submitted Livy batch", zap.Int("batch_id", b.ID))
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	id := batch.ID
	logURL := livy.LogURL(display, id)
	logger = logger.With(zap.Int("batch_id", id))
	if !submitted {
		logger.Info("Resuming Livy batch from task state")
	}
	_ = o.events.WriteSubmitted(ctx, &events.SubmittedRecord{
		Name:    name,
		BatchID: id,
		State:   batch.State,
		LogURL:  logURL,
		Resumed: !submitted,
	})

	waiter := poll.NewWaiter(o.state, StepRunning,
		poll.WithPollInterval(PollInterval),
		poll.WithWaitMessage("Livy batch id %d is still running (%s)", id, logURL),
		poll.WithClock(o.clock),
		poll.WithLogger(logger),
		poll.WithNotifier(poll.NotifierFunc(func(ctx context.Context, s poll.WaitStatus) {
			_ = o.events.WriteWaiting(ctx, &events.WaitingRecord{
				BatchID:    id,
				Iteration:  s.Iteration,
				ElapsedMs:  s.Elapsed.Milliseconds(),
				NextPollMs: s.Next.Milliseconds(),
				Message:    s.Message,
			})
		})),
	)

	final, err := poll.AwaitOnce(ctx, waiter, func(ctx context.Context, pollState taskstate.Store) (*livy.Batch, bool, error) {
		return o.checkCompletion(ctx, client, id, pollState, logger)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf("Livy batch id %d ended with status %s", final.ID, final.State),
		zap.String("state", final.State),
	)

	return &task.Result{
		TaskID:  o.taskID,
		BatchID: final.ID,
		State:   final.State,
		AppID:   final.AppIDOrEmpty(),
		LogURL:  logURL,
	}, nil
}

// checkCompletion makes one status request. Request failures are retried by
// the host after a fixed delay; terminal failure states are fatal.
func (o *Operator) checkCompletion(ctx context.Context, client BatchClient, id int, pollState taskstate.Store, logger *zap.Logger) (*livy.Batch, bool, error) {
	checker := retry.New(pollState, StepCheck,
		retry.WithRetryInterval(CheckRetryInterval),
		retry.WithErrorMessage("Livy server is unreachable while checking batch id %d", id),
		retry.WithLogger(logger),
	)
	b, err := retry.Run(ctx, checker, func(ctx context.Context, _ taskstate.Store) (*livy.Batch, error) {
		b, err := client.FetchStatus(ctx, id)
		state := ""
		if b != nil {
			state = b.State
		}
		o.metrics.RecordStatusPoll(ctx, state, err)
		return b, err
	})
	if err != nil {
		return nil, false, err
	}

	if appID := b.AppIDOrEmpty(); appID != "" {
		logger.Info(fmt.Sprintf("Livy batch id %d (%s) is currently %s", b.ID, appID, b.State),
			zap.String("app_id", appID), zap.String("state", b.State))
	} else {
		logger.Info(fmt.Sprintf("Livy batch id %d is currently %s", b.ID, b.State), zap.String("state", b.State))
	}
	_ = o.events.WriteStatus(ctx, &events.StatusRecord{
		BatchID: b.ID,
		State:   b.State,
		Phase:   livy.Classify(b.State).String(),
		AppID:   b.AppIDOrEmpty(),
	})

	done, err := livy.Evaluate(b)
	if err != nil {
		return nil, false, err
	}
	return b, done, nil
}
