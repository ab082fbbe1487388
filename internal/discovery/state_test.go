package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/domain"
)

func TestStateManagerMarkStarted(t *testing.T) {
	m := discovery.NewStateManager()

	snapshot := m.MarkStarted()

	assert.True(t, snapshot.Running)
	assert.False(t, snapshot.StopRequested)
	assert.Zero(t, snapshot.Runs)
	assert.Zero(t, snapshot.Discovered)
	assert.NotEmpty(t, snapshot.LastStartedAt)
	assert.Equal(t, int64(1), snapshot.Version)
	assert.Empty(t, snapshot.LastReason)
	assert.Empty(t, snapshot.LastError)
}

func TestStateManagerRestartClearsPreviousOutcome(t *testing.T) {
	m := discovery.NewStateManager()

	m.MarkStarted()
	m.MarkCompleted(3, 12, "", "backend unreachable")

	snapshot := m.MarkStarted()

	assert.True(t, snapshot.Running)
	assert.Zero(t, snapshot.Runs)
	assert.Zero(t, snapshot.Discovered)
	assert.Empty(t, snapshot.LastReason)
	assert.Empty(t, snapshot.LastError)
}

func TestStateManagerUpdateProgress(t *testing.T) {
	m := discovery.NewStateManager()
	m.MarkStarted()

	snapshot := m.UpdateProgress(2, 7)

	assert.Equal(t, 2, snapshot.Runs)
	assert.Equal(t, 7, snapshot.Discovered)

	// Negative counters never surface.
	snapshot = m.UpdateProgress(-1, -5)
	assert.Zero(t, snapshot.Runs)
	assert.Zero(t, snapshot.Discovered)
}

func TestStateManagerRequestStop(t *testing.T) {
	m := discovery.NewStateManager()

	// Idle: no-op, no version bump.
	before := m.Snapshot()
	snapshot := m.RequestStop()
	assert.Equal(t, before.Version, snapshot.Version)
	assert.False(t, snapshot.StopRequested)

	m.MarkStarted()
	snapshot = m.RequestStop()
	assert.True(t, snapshot.StopRequested)
	version := snapshot.Version

	// Second request is idempotent.
	snapshot = m.RequestStop()
	assert.True(t, snapshot.StopRequested)
	assert.Equal(t, version, snapshot.Version)
}

func TestStateManagerCompletionReasons(t *testing.T) {
	tests := []struct {
		name        string
		requestStop bool
		reason      string
		errMessage  string
		wantReason  string
	}{
		{
			name:       "plain completion",
			wantReason: domain.LoopReasonCompleted,
		},
		{
			name:        "stop requested",
			requestStop: true,
			wantReason:  domain.LoopReasonStopped,
		},
		{
			name:       "error outranks completion",
			errMessage: "backend unreachable",
			wantReason: domain.LoopReasonError,
		},
		{
			name:        "error outranks stop",
			requestStop: true,
			errMessage:  "backend unreachable",
			wantReason:  domain.LoopReasonError,
		},
		{
			name:        "explicit reason outranks everything",
			requestStop: true,
			reason:      "completed",
			errMessage:  "backend unreachable",
			wantReason:  domain.LoopReasonCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := discovery.NewStateManager()
			m.MarkStarted()
			if tt.requestStop {
				m.RequestStop()
			}

			snapshot := m.MarkCompleted(2, 4, tt.reason, tt.errMessage)

			assert.Equal(t, tt.wantReason, snapshot.LastReason)
			assert.Equal(t, tt.errMessage, snapshot.LastError)
			assert.False(t, snapshot.Running)
			assert.False(t, snapshot.StopRequested)
			assert.Equal(t, 2, snapshot.Runs)
			assert.Equal(t, 4, snapshot.Discovered)
			assert.NotEmpty(t, snapshot.LastCompletedAt)
		})
	}
}

func TestStateManagerVersionIncreasesOnEveryMutation(t *testing.T) {
	m := discovery.NewStateManager()

	versions := []int64{
		m.MarkStarted().Version,
		m.UpdateProgress(1, 2).Version,
		m.RequestStop().Version,
		m.MarkCompleted(1, 2, "", "").Version,
	}

	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1])
	}
}
