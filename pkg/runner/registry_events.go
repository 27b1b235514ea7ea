package runner

import (
	"context"

	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/taskregistry"
)

// registryEvents forwards records and copies batch progress into the task
// record as it is observed.
type registryEvents struct {
	events.Writer
	recorder *taskregistry.Recorder
}

func (e *registryEvents) WriteSubmitted(ctx context.Context, rec *events.SubmittedRecord) error {
	_ = e.recorder.Update(func(tr *taskregistry.TaskRecord) {
		id := rec.BatchID
		tr.BatchID = &id
		tr.LogURL = rec.LogURL
		tr.LivyState = rec.State
		if tr.Name == "" {
			tr.Name = rec.Name
		}
		tr.State = taskregistry.TaskStateSubmitted
	})
	return e.Writer.WriteSubmitted(ctx, rec)
}

func (e *registryEvents) WriteStatus(ctx context.Context, rec *events.StatusRecord) error {
	_ = e.recorder.Update(func(tr *taskregistry.TaskRecord) {
		tr.LivyState = rec.State
		if rec.AppID != "" {
			tr.AppID = rec.AppID
		}
		tr.State = taskregistry.TaskStateRunning
	})
	return e.Writer.WriteStatus(ctx, rec)
}
