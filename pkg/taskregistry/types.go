package taskregistry

import "time"

// TaskState is the host-side lifecycle state of a task.
//
// NOTE: These values are persisted in task.json and are part of the stable
// on-disk contract.
type TaskState string

const (
	TaskStateQueued      TaskState = "queued"
	TaskStateSubmitted   TaskState = "submitted"
	TaskStateRunning     TaskState = "running"
	TaskStateRetrying    TaskState = "retrying"
	TaskStateSuccess     TaskState = "success"
	TaskStateFailed      TaskState = "failed"
	TaskStateInterrupted TaskState = "interrupted"
	TaskStateUnknown     TaskState = "unknown"
)

// Terminal reports whether no further invocation will happen on its own.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSuccess, TaskStateFailed, TaskStateInterrupted, TaskStateUnknown:
		return true
	default:
		return false
	}
}

// Active reports whether a process is expected to be working on the task.
func (s TaskState) Active() bool {
	switch s {
	case TaskStateSubmitted, TaskStateRunning, TaskStateRetrying:
		return true
	default:
		return false
	}
}

// TaskRecord is the persistent record written to task.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type TaskRecord struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name,omitempty"`
	State      TaskState `json:"state"`
	ParamsPath string    `json:"params_path,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	BatchID    *int      `json:"batch_id,omitempty"`
	AppID      string    `json:"app_id,omitempty"`
	LogURL     string    `json:"log_url,omitempty"`
	LivyState  string    `json:"livy_state,omitempty"`
	Attempts   int       `json:"attempts"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	PID        int       `json:"pid,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
