package taskregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_HeartbeatStampsRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	rec := &TaskRecord{TaskID: "task-1", State: TaskStateRunning, CreatedAt: time.Now().UTC()}
	r := NewRecorder(s, rec)
	require.NoError(t, r.Update(func(*TaskRecord) {}))

	stop := r.StartHeartbeat(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := s.Get("task-1")
		return err == nil && got.LastHeartbeat != nil
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	stop()

	assert.NotNil(t, r.Snapshot().LastHeartbeat)
}

func TestRecorder_NilStoreIsNoop(t *testing.T) {
	r := NewRecorder(nil, &TaskRecord{})
	assert.NoError(t, r.Update(func(rec *TaskRecord) { rec.Attempts++ }))
	r.StartHeartbeat(context.Background(), time.Millisecond)()
}
