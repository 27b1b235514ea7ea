package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/3leaps/golivy/pkg/livy"
)

// MeterName is the instrumentation scope of golivy metrics.
const MeterName = "golivy"

var (
	// TelemetrySystem is the process-wide metrics set, nil until InitTelemetry.
	TelemetrySystem *Metrics

	// PrometheusExporter serves TelemetrySystem in the Prometheus text format.
	PrometheusExporter http.Handler
)

// Metrics records golivy task activity.
//
// It satisfies operator.Metrics (per request) and runner.OutcomeMetrics
// (per task).
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	Submissions     metric.Int64Counter
	StatusPolls     metric.Int64Counter
	RequestFailures metric.Int64Counter
	TaskOutcomes    metric.Int64Counter
	TaskDuration    metric.Float64Histogram
}

// NewMetrics creates the instruments on a Prometheus exporter registered
// with reg. A nil reg uses the default Prometheus registry.
func NewMetrics(reg *promclient.Registry) (*Metrics, http.Handler, error) {
	opts := []prometheus.Option{}
	var handler http.Handler
	if reg != nil {
		opts = append(opts, prometheus.WithRegisterer(reg))
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		handler = promhttp.Handler()
	}

	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(MeterName)
	m := &Metrics{meter: meter, provider: provider}

	m.Submissions, err = meter.Int64Counter(
		"golivy_submissions",
		metric.WithDescription("Livy batch submission requests by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StatusPolls, err = meter.Int64Counter(
		"golivy_status_polls",
		metric.WithDescription("Livy batch status requests by outcome and observed state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RequestFailures, err = meter.Int64Counter(
		"golivy_request_failures",
		metric.WithDescription("Failed Livy requests by error class"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TaskOutcomes, err = meter.Int64Counter(
		"golivy_task_outcomes",
		metric.WithDescription("Finished task runs by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram(
		"golivy_task_duration_seconds",
		metric.WithDescription("Task run duration in seconds, across invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 21600),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, handler, nil
}

// InitTelemetry creates the process-wide metrics on the default registry
// and makes them the global OpenTelemetry meter provider.
func InitTelemetry() error {
	m, handler, err := NewMetrics(nil)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(m.provider)
	TelemetrySystem = m
	PrometheusExporter = handler
	return nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordSubmission(ctx context.Context, err error) {
	m.Submissions.Add(ctx, 1, metric.WithAttributes(outcomeAttr(err)))
	m.recordFailure(ctx, err)
}

func (m *Metrics) RecordStatusPoll(ctx context.Context, state string, err error) {
	m.StatusPolls.Add(ctx, 1, metric.WithAttributes(outcomeAttr(err), stateAttr(state)))
	m.recordFailure(ctx, err)
}

func (m *Metrics) RecordOutcome(ctx context.Context, result string, d time.Duration) {
	attrs := metric.WithAttributes(resultAttr(result))
	m.TaskOutcomes.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordFailure(ctx context.Context, err error) {
	if err == nil {
		return
	}
	class := "other"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		class = "cancelled"
	case livy.IsTransport(err):
		class = "transport"
	case livy.IsProtocol(err):
		class = "protocol"
	}
	m.RequestFailures.Add(ctx, 1, metric.WithAttributes(errorClassAttr(class)))
}
