package ord

import "time"

// Status is the lifecycle phase of the content update state machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
)

// TriggerSource identifies what caused an update to start.
type TriggerSource string

const (
	SourceScheduled TriggerSource = "scheduled"
	SourceWebhook   TriggerSource = "webhook"
	SourceManual    TriggerSource = "manual"
	SourcePeriodic  TriggerSource = "periodic"
	SourceInitial   TriggerSource = "initial"
)

// UpdateState is the single source of truth for the content lifecycle,
// guarded by the Update State Manager's mutex. Every field is exported so
// getState() can return a cheap value copy (its "deep copy" contract — the
// struct holds no pointers that would alias mutable state).
type UpdateState struct {
	Status           Status
	Source           TriggerSource
	Phase            string
	Progress         int
	LastUpdateTime   time.Time
	ScheduledTime    time.Time
	LastError        string
	FailedCommitHash string
	UpdateInProgress bool
	FailedUpdates    int
}

// DeepCopy returns an independent copy of the state.
func (s UpdateState) DeepCopy() UpdateState {
	return s
}
