// Package discovery implements keyword discovery runs and the repeating
// discovery loop, plus the loop's lifecycle state tracking.
package discovery

import (
	"sync"
	"time"

	"github.com/jonesrussell/harvester/internal/domain"
)

// timestamp renders a UTC timestamp without sub-second noise so repeated
// snapshots compare cleanly.
func timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// StateManager is the thread-safe owner of the discovery loop status. It is
// constructed per controller instance rather than held as a package global
// so tests can build fresh ones per case.
type StateManager struct {
	mu    sync.Mutex
	state domain.LoopSnapshot
}

// NewStateManager creates an idle state manager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// MarkStarted transitions to running, resetting counters and clearing the
// previous completion outcome. Every mutation bumps the version counter.
func (m *StateManager) MarkStarted() domain.LoopSnapshot {
	now := timestamp(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Running = true
	m.state.StopRequested = false
	m.state.Runs = 0
	m.state.Discovered = 0
	m.state.LastStartedAt = now
	m.state.UpdatedAt = now
	m.state.Version++
	m.state.LastReason = ""
	m.state.LastError = ""
	return m.state
}

// UpdateProgress records cumulative run and discovery counters.
func (m *StateManager) UpdateProgress(runs, discovered int) domain.LoopSnapshot {
	now := timestamp(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Runs = sanitizeCount(runs)
	m.state.Discovered = sanitizeCount(discovered)
	m.state.UpdatedAt = now
	m.state.Version++
	return m.state
}

// RequestStop flags a graceful stop. A no-op when the loop is idle, and
// idempotent while it runs.
func (m *StateManager) RequestStop() domain.LoopSnapshot {
	now := timestamp(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Running && !m.state.StopRequested {
		m.state.StopRequested = true
		m.state.UpdatedAt = now
		m.state.Version++
	}
	return m.state
}

// StopRequested reports whether a graceful stop is pending.
func (m *StateManager) StopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Running && m.state.StopRequested
}

// Running reports whether the loop is currently running.
func (m *StateManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Running
}

// MarkCompleted transitions back to idle and records the completion outcome.
// The reason derives from, in priority order: an explicit reason, an error,
// a pending stop request, or plain completion. Cumulative counters always
// reflect the progress made before any error; partial progress is never
// discarded.
func (m *StateManager) MarkCompleted(runs, discovered int, reason string, errMessage string) domain.LoopSnapshot {
	now := timestamp(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()

	derived := reason
	if derived == "" {
		switch {
		case errMessage != "":
			derived = domain.LoopReasonError
		case m.state.StopRequested:
			derived = domain.LoopReasonStopped
		default:
			derived = domain.LoopReasonCompleted
		}
	}

	m.state.Running = false
	m.state.StopRequested = false
	m.state.Runs = sanitizeCount(runs)
	m.state.Discovered = sanitizeCount(discovered)
	m.state.LastCompletedAt = now
	m.state.UpdatedAt = now
	m.state.Version++
	m.state.LastReason = derived
	m.state.LastError = errMessage
	return m.state
}

// Snapshot returns the current state.
func (m *StateManager) Snapshot() domain.LoopSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func sanitizeCount(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
