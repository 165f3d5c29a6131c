// Package updatestate implements the Update State Manager: the single
// source of truth for the content lifecycle state, and the readiness gate
// that incoming requests suspend on while an update is in flight.
package updatestate

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
	"github.com/open-resource-discovery/provider-server/pkg/ord"
)

const defaultReadyTimeout = 5 * time.Minute

// Manager holds the Update State behind a single mutex. Waiters for a
// terminal transition subscribe by capturing the current "done" channel;
// that channel is closed (and replaced) on every terminal transition, which
// is the idiomatic Go broadcast primitive — a single close wakes every
// waiter at once.
type Manager struct {
	mu    sync.Mutex
	state ord.UpdateState
	done  chan struct{} // closed when the current in-progress update ends
	log   logr.Logger
}

// New constructs a Manager in the idle state.
func New(log logr.Logger) *Manager {
	return &Manager{
		state: ord.UpdateState{Status: ord.StatusIdle},
		done:  make(chan struct{}),
		log:   log,
	}
}

// GetState returns a copy of the current state; safe for concurrent callers.
func (m *Manager) GetState() ord.UpdateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeepCopy()
}

// StartUpdate transitions to in_progress for the given trigger source.
func (m *Manager) StartUpdate(source ord.TriggerSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state.Status
	m.state.Status = ord.StatusInProgress
	m.state.Source = source
	m.state.UpdateInProgress = true
	m.state.Phase = ""
	m.state.Progress = 0
	m.log.Info("update started", "source", source, "prevStatus", prev)
}

// SetProgress records fetch progress for the in-progress update.
func (m *Manager) SetProgress(progress int, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Progress = progress
	if phase != "" {
		m.state.Phase = phase
	}
}

// CompleteUpdate marks the current update as successfully finished and
// releases every waiter blocked in WaitForReady.
func (m *Manager) CompleteUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = ord.StatusIdle
	m.state.UpdateInProgress = false
	m.state.LastUpdateTime = now()
	m.state.LastError = ""
	m.state.FailedUpdates = 0
	m.releaseWaiters()
	m.log.Info("update completed")
}

// FailUpdate marks the current update as failed and releases waiters; a
// failed update still unblocks readers (they serve stale content).
func (m *Manager) FailUpdate(cause error, failedCommitHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = ord.StatusFailed
	m.state.UpdateInProgress = false
	m.state.LastError = cause.Error()
	m.state.FailedCommitHash = failedCommitHash
	m.state.FailedUpdates++
	m.releaseWaiters()
	m.log.Error(cause, "update failed", "failedUpdates", m.state.FailedUpdates)
}

// ScheduleUpdate records that an update has been armed for a future time,
// without itself starting one.
func (m *Manager) ScheduleUpdate(when time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != ord.StatusInProgress {
		m.state.Status = ord.StatusScheduled
	}
	m.state.ScheduledTime = when
}

// Reset returns the state machine to idle, e.g. at startup.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ord.UpdateState{Status: ord.StatusIdle}
	m.releaseWaiters()
}

// releaseWaiters closes the current done channel and installs a fresh one.
// Must be called with mu held.
func (m *Manager) releaseWaiters() {
	close(m.done)
	m.done = make(chan struct{})
}

// WaitForReady blocks until no update is in progress, a terminal transition
// fires, or timeout elapses. Guards against the wait-vs-signal race by
// capturing the done channel and re-checking UpdateInProgress while still
// holding the lock, before releasing it to wait.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	m.mu.Lock()
	if !m.state.UpdateInProgress {
		m.mu.Unlock()
		return nil
	}
	waitCh := m.done
	m.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-waitCh:
		return nil
	case <-t.C:
		return apierror.Timeout("timed out waiting for update to complete")
	case <-ctx.Done():
		return apierror.Wrap(apierror.CodeTimeoutError, "request cancelled while waiting for update", ctx.Err())
	}
}

var now = time.Now
