package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/pkg/taskregistry"
)

// telemetryHealthChecker fails until the metrics system is up.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

// heartbeatHealthChecker fails when the running task has not refreshed its
// registry record within maxAge.
type heartbeatHealthChecker struct {
	recorder *taskregistry.Recorder
	maxAge   time.Duration
	now      func() time.Time
}

func (c heartbeatHealthChecker) CheckHealth(context.Context) error {
	if c.recorder == nil {
		return errors.New("no task is being recorded")
	}
	rec := c.recorder.Snapshot()

	last := rec.CreatedAt
	switch {
	case rec.LastHeartbeat != nil:
		last = *rec.LastHeartbeat
	case rec.StartedAt != nil:
		last = *rec.StartedAt
	}

	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	if age := now.Sub(last); c.maxAge > 0 && age > c.maxAge {
		return fmt.Errorf("task %s heartbeat is stale (%s old)", rec.TaskID, age.Truncate(time.Second))
	}
	return nil
}
