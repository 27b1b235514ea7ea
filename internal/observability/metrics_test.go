package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/golivy/pkg/livy"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_RecordedAndExported(t *testing.T) {
	ctx := context.Background()
	m, handler, err := NewMetrics(promclient.NewRegistry())
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(ctx) }()

	m.RecordSubmission(ctx, nil)
	m.RecordSubmission(ctx, &livy.TransportError{Op: "submit", Err: errors.New("refused")})
	m.RecordStatusPoll(ctx, "running", nil)
	m.RecordStatusPoll(ctx, "exploded", nil)
	m.RecordStatusPoll(ctx, "", &livy.ProtocolError{StatusCode: 502})
	m.RecordOutcome(ctx, "success", 90*time.Second)

	body := scrape(t, handler)
	assert.Contains(t, body, "golivy_submissions")
	assert.Contains(t, body, "golivy_status_polls")
	assert.Contains(t, body, `state="unrecognized"`)
	assert.Contains(t, body, `error_class="transport"`)
	assert.Contains(t, body, `error_class="protocol"`)
	assert.Contains(t, body, "golivy_task_outcomes")
	assert.Contains(t, body, "golivy_task_duration_seconds")
	assert.Contains(t, body, `result="success"`)
}

func TestMetrics_ShutdownNil(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestStateAttr(t *testing.T) {
	assert.Equal(t, "running", stateAttr("running").Value.AsString())
	assert.Equal(t, "none", stateAttr("").Value.AsString())
	assert.Equal(t, "unrecognized", stateAttr("RUNNING").Value.AsString())
}
