package operator

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/livy"
	"github.com/3leaps/golivy/pkg/livymock"
	"github.com/3leaps/golivy/pkg/task"
	"github.com/3leaps/golivy/pkg/taskstate"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// scriptedClient replays a fixed sequence of status responses.
type scriptedClient struct {
	mu        sync.Mutex
	submitID  int
	submitErr []error
	statuses  []statusReply
	submits   int
	polls     int
}

type statusReply struct {
	state string
	appID string
	err   error
}

func (c *scriptedClient) Submit(_ context.Context, req *livy.BatchRequest) (*livy.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.submitErr) > 0 {
		err := c.submitErr[0]
		c.submitErr = c.submitErr[1:]
		return nil, err
	}
	c.submits++
	return &livy.Batch{ID: c.submitID, State: "starting"}, nil
}

func (c *scriptedClient) FetchStatus(_ context.Context, id int) (*livy.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polls >= len(c.statuses) {
		panic("unexpected status poll")
	}
	r := c.statuses[c.polls]
	c.polls++
	if r.err != nil {
		return nil, r.err
	}
	b := &livy.Batch{ID: id, State: r.state}
	if r.appID != "" {
		appID := r.appID
		b.AppID = &appID
	}
	return b, nil
}

func testParams() Params {
	return Params{"host": "livy.internal", "file": "local:/jobs/etl.py", "name": "nightly"}
}

func newTestOperator(state taskstate.Store, client BatchClient, clock *fakeClock, opts ...Option) *Operator {
	opts = append([]Option{
		WithClientFactory(func(ConnectionConfig) BatchClient { return client }),
		WithClock(clock),
	}, opts...)
	return New("task-1", testParams(), nil, state, opts...)
}

func TestRun_Scenario42_RunningThenSuccess(t *testing.T) {
	ctx := context.Background()
	state := taskstate.NewMemoryStore()
	clock := newFakeClock()
	client := &scriptedClient{
		submitID: 42,
		statuses: []statusReply{
			{state: "running", appID: "application_1_0042"},
			{state: "running", appID: "application_1_0042"},
			{state: "running", appID: "application_1_0042"},
			{state: "success", appID: "application_1_0042"},
		},
	}

	var buf bytes.Buffer
	op := newTestOperator(state, client, clock, WithEvents(events.NewJSONLWriter(&buf, "task-1")))

	res, err := op.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 42, res.BatchID)
	assert.Equal(t, "success", res.State)
	assert.Equal(t, "application_1_0042", res.AppID)
	assert.Equal(t, "http://livy.internal:8998/ui/batch/42/log", res.LogURL)
	assert.Equal(t, 1, client.submits)
	assert.Equal(t, 4, client.polls)
	assert.Len(t, clock.sleeps, 3)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, events.TypeWaiting))
	assert.Contains(t, out, "Livy batch id 42 is still running (http://livy.internal:8998/ui/batch/42/log)")
	assert.Equal(t, 4, strings.Count(out, events.TypeStatus))
	assert.Equal(t, 1, strings.Count(out, events.TypeSubmitted))
}

func TestRun_Scenario7_DeadIsFatal(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{
		submitID: 7,
		statuses: []statusReply{{state: "dead"}},
	}

	_, err := newTestOperator(taskstate.NewMemoryStore(), client, newFakeClock()).Run(ctx)
	require.Error(t, err)

	assert.False(t, task.IsRetryable(err))
	assert.True(t, livy.IsRemoteJobFailed(err))
	assert.Contains(t, err.Error(), "7")
	assert.Contains(t, err.Error(), "dead")
	assert.Equal(t, 1, client.polls, "no further polls after a terminal failure")
}

func TestRun_UnknownStateIsFatal(t *testing.T) {
	client := &scriptedClient{submitID: 1, statuses: []statusReply{{state: "killed"}}}
	_, err := newTestOperator(taskstate.NewMemoryStore(), client, newFakeClock()).Run(context.Background())
	assert.True(t, livy.IsUnknownState(err))
	assert.False(t, task.IsRetryable(err))
}

func TestRun_SubmitAtMostOnceAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	state := taskstate.NewMemoryStore()
	refused := &livy.TransportError{Op: "status", Err: errors.New("connection refused")}
	client := &scriptedClient{
		submitID: 42,
		statuses: []statusReply{
			{state: "running"},
			{err: refused},
			{state: "running"},
			{state: "success"},
		},
	}

	clock := newFakeClock()
	op := newTestOperator(state, client, clock)

	// First invocation: submitted, one pending poll, then the status check fails.
	_, err := op.Run(ctx)
	require.Error(t, err)
	assert.True(t, task.IsRetryable(err))
	assert.Equal(t, CheckRetryInterval.Min, task.RetryAfter(err))
	assert.Contains(t, err.Error(), "batch id 42")

	// Host re-invokes: the batch is not submitted again and polling resumes.
	res, err := op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, res.BatchID)
	assert.Equal(t, 1, client.submits)
	assert.Equal(t, 4, client.polls)

	// A third invocation returns the persisted result without any request.
	res, err = op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "success", res.State)
	assert.Equal(t, 4, client.polls)
}

func TestRun_SubmissionTransportErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	state := taskstate.NewMemoryStore()
	client := &scriptedClient{
		submitID:  5,
		submitErr: []error{&livy.ProtocolError{Op: "submit", StatusCode: 502}},
		statuses:  []statusReply{{state: "success"}},
	}
	op := newTestOperator(state, client, newFakeClock())

	_, err := op.Run(ctx)
	require.Error(t, err)
	assert.True(t, task.IsRetryable(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Livy job submission failed: nightly"))
	assert.True(t, livy.IsProtocol(err))
	_, found, _ := state.Get(ctx, "start.result")
	assert.False(t, found)

	res, err := op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.BatchID)
}

func TestRun_ConfigErrorsAreFatal(t *testing.T) {
	op := New("task-1", Params{"file": "f"}, nil, taskstate.NewMemoryStore())
	_, err := op.Run(context.Background())
	assert.True(t, IsConfig(err))
	assert.False(t, task.IsRetryable(err))

	op = New("task-1", Params{"host": "h"}, nil, taskstate.NewMemoryStore())
	_, err = op.Run(context.Background())
	assert.True(t, IsConfig(err))
}

type recordingMetrics struct {
	submissions int
	polls       []string
}

func (m *recordingMetrics) RecordSubmission(context.Context, error) { m.submissions++ }
func (m *recordingMetrics) RecordStatusPoll(_ context.Context, state string, _ error) {
	m.polls = append(m.polls, state)
}

func TestRun_RecordsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	client := &scriptedClient{submitID: 1, statuses: []statusReply{{state: "idle"}, {state: "success"}}}
	_, err := newTestOperator(taskstate.NewMemoryStore(), client, newFakeClock(), WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.submissions)
	assert.Equal(t, []string{"idle", "success"}, m.polls)
}

func TestRun_AgainstMockServer(t *testing.T) {
	ctx := context.Background()
	mock := livymock.New(livymock.WithFirstID(42), livymock.WithStates("running", "running", "running", "success"),
		livymock.WithBasicAuth("alice", "pw"))
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	params := NewParams(map[string]any{
		"livy": map[string]any{"host": u.Hostname(), "port": port, "username": "alice"},
		"file": "local:/jobs/etl.py",
		"name": "nightly",
	})
	op := New("task-1", params, MapSecrets{"password": "pw"}, taskstate.NewMemoryStore(), WithClock(newFakeClock()))

	res, err := op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, res.BatchID)
	assert.Equal(t, "success", res.State)
	assert.Equal(t, "http://"+u.Host+"/ui/batch/42/log", res.LogURL)
	assert.Equal(t, 1, mock.Submissions())
	assert.Equal(t, 4, mock.StatusRequests(42))

	req, ok := mock.Request(42)
	require.True(t, ok)
	assert.Equal(t, "nightly", req.DisplayName())
}

func TestRun_LogsTaskIDOnce(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core).With(zap.String("task_id", "task-1"))

	client := &scriptedClient{submitID: 3, statuses: []statusReply{{state: "running"}, {state: "success"}}}
	_, err := newTestOperator(taskstate.NewMemoryStore(), client, newFakeClock(), WithLogger(logger)).Run(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"task_id":`), line)
	}
}
