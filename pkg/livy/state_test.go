package livy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_PendingStates(t *testing.T) {
	for _, label := range []string{"not_started", "starting", "recovering", "idle", "running", "busy", "shutting_down"} {
		t.Run(label, func(t *testing.T) {
			assert.Equal(t, PhasePending, Classify(label))
		})
	}
}

func TestClassify_Terminal(t *testing.T) {
	assert.Equal(t, PhaseSucceeded, Classify("success"))
	assert.Equal(t, PhaseFailed, Classify("error"))
	assert.Equal(t, PhaseFailed, Classify("dead"))
}

func TestClassify_Unrecognized(t *testing.T) {
	for _, label := range []string{"", "RUNNING", "killed", "success ", "finished"} {
		t.Run(label, func(t *testing.T) {
			assert.Equal(t, StateUnrecognized, ParseBatchState(label))
			assert.Equal(t, PhaseUnknown, Classify(label))
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		done, err := Evaluate(&Batch{ID: 1, State: "running"})
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("success", func(t *testing.T) {
		done, err := Evaluate(&Batch{ID: 1, State: "success"})
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("dead is a remote job failure", func(t *testing.T) {
		_, err := Evaluate(&Batch{ID: 7, State: "dead"})
		require.Error(t, err)

		var remote *RemoteJobError
		require.True(t, errors.As(err, &remote))
		assert.True(t, IsRemoteJobFailed(err))
		assert.Contains(t, err.Error(), "7")
		assert.Contains(t, err.Error(), "dead")
	})

	t.Run("error is a remote job failure", func(t *testing.T) {
		_, err := Evaluate(&Batch{ID: 9, State: "error"})
		assert.True(t, IsRemoteJobFailed(err))
	})

	t.Run("unknown state", func(t *testing.T) {
		_, err := Evaluate(&Batch{ID: 3, State: "exploded"})
		require.Error(t, err)
		assert.True(t, IsUnknownState(err))
		assert.False(t, IsRemoteJobFailed(err))
		assert.Contains(t, err.Error(), "exploded")
	})
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "pending", PhasePending.String())
	assert.Equal(t, "succeeded", PhaseSucceeded.String())
	assert.Equal(t, "failed", PhaseFailed.String())
	assert.Equal(t, "unknown", PhaseUnknown.String())
}
