package taskregistry

import (
	"context"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often a running task refreshes its record.
const DefaultHeartbeatInterval = 30 * time.Second

// Recorder serializes updates to one task's record between the runner and
// its heartbeat goroutine.
type Recorder struct {
	mu     sync.Mutex
	store  *Store
	record *TaskRecord
}

func NewRecorder(store *Store, record *TaskRecord) *Recorder {
	return &Recorder{store: store, record: record}
}

// Update applies fn to the record and writes it.
func (r *Recorder) Update(fn func(rec *TaskRecord)) error {
	if r == nil || r.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.record)
	return r.store.Write(r.record)
}

// Snapshot returns a copy of the current record.
func (r *Recorder) Snapshot() TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.record
}

// StartHeartbeat refreshes LastHeartbeat every interval until ctx is done
// or the returned stop function is called.
func (r *Recorder) StartHeartbeat(ctx context.Context, interval time.Duration) func() {
	if r == nil || r.store == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	t := time.NewTicker(interval)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_ = r.Update(func(rec *TaskRecord) {
					now := time.Now().UTC()
					rec.LastHeartbeat = &now
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
			<-stopped
		})
	}
}
