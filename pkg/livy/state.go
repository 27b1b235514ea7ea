package livy

// BatchState is a batch state label reported by Livy.
type BatchState string

// Known batch states. StateUnrecognized is never sent by the server; it is
// what ParseBatchState returns for any label outside this set.
const (
	StateNotStarted   BatchState = "not_started"
	StateStarting     BatchState = "starting"
	StateRecovering   BatchState = "recovering"
	StateIdle         BatchState = "idle"
	StateRunning      BatchState = "running"
	StateBusy         BatchState = "busy"
	StateShuttingDown BatchState = "shutting_down"
	StateSuccess      BatchState = "success"
	StateError        BatchState = "error"
	StateDead         BatchState = "dead"

	StateUnrecognized BatchState = ""
)

// Phase buckets batch states for the poller.
type Phase int

const (
	// PhaseUnknown is an unrecognized state; it is fatal.
	PhaseUnknown Phase = iota

	// PhasePending means keep polling.
	PhasePending

	// PhaseSucceeded is terminal success.
	PhaseSucceeded

	// PhaseFailed is terminal failure (error or dead).
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseBatchState maps a label onto the closed state set.
func ParseBatchState(label string) BatchState {
	switch s := BatchState(label); s {
	case StateNotStarted, StateStarting, StateRecovering, StateIdle, StateRunning,
		StateBusy, StateShuttingDown, StateSuccess, StateError, StateDead:
		return s
	default:
		return StateUnrecognized
	}
}

// Phase returns the bucket of a state.
func (s BatchState) Phase() Phase {
	switch s {
	case StateNotStarted, StateStarting, StateRecovering, StateIdle, StateRunning, StateBusy, StateShuttingDown:
		return PhasePending
	case StateSuccess:
		return PhaseSucceeded
	case StateError, StateDead:
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// Classify buckets any label. It is total: every string maps to exactly one
// phase.
func Classify(label string) Phase {
	return ParseBatchState(label).Phase()
}

// Evaluate turns a status snapshot into a poll outcome. It returns done=false
// while the batch is pending and done=true on success. Failure states yield a
// *RemoteJobError and unknown labels an *UnknownStateError.
func Evaluate(b *Batch) (bool, error) {
	switch Classify(b.State) {
	case PhasePending:
		return false, nil
	case PhaseSucceeded:
		return true, nil
	case PhaseFailed:
		return false, &RemoteJobError{ID: b.ID, State: b.State}
	default:
		return false, &UnknownStateError{ID: b.ID, State: b.State}
	}
}
