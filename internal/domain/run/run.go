// Package run defines the Run domain entity: one end-to-end execution of a
// user request against an accepted plan.
package run

import "time"

// Status represents the current state of a run.
type Status string

const (
	StatusCreated  Status = "created"
	StatusPlanning Status = "planning"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// IsTerminal returns true if the run reached a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// transitions lists the allowed source statuses for each target status.
// Terminal statuses never appear as a source.
var transitions = map[Status][]Status{
	StatusPlanning: {StatusCreated},
	StatusRunning:  {StatusPlanning, StatusPaused},
	StatusPaused:   {StatusRunning},
	StatusDone:     {StatusRunning},
	StatusFailed:   {StatusRunning, StatusPaused},
	StatusCanceled: {StatusCreated, StatusPlanning, StatusRunning, StatusPaused},
}

// AllowedFrom returns the set of statuses a run may be in for a transition
// to the target status to be accepted. Used by the store's compare-and-set.
func AllowedFrom(target Status) []Status {
	return transitions[target]
}

// CanTransition reports whether from -> to is a valid edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Mode defines how far a run is allowed to go without human confirmation.
type Mode string

const (
	// ModePlanOnly builds and stores the plan but never executes it.
	ModePlanOnly Mode = "plan_only"
	// ModeExecuteConfirm executes, gating every flagged step on approval.
	ModeExecuteConfirm Mode = "execute_confirm"
	// ModeExecuteAuto executes without approval gates for safe-scoped skills.
	ModeExecuteAuto Mode = "execute_auto"
)

// Run represents a single user-triggered execution unit. A run exclusively
// owns its plan steps, tasks, approvals and events; the optional parent run
// reference only groups follow-up runs into one conversation.
type Run struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	QueryText   string            `json:"query_text"`
	Mode        Mode              `json:"mode"`
	Status      Status            `json:"status"`
	Purpose     string            `json:"purpose,omitempty"`
	ParentRunID string            `json:"parent_run_id,omitempty"`
	Error       string            `json:"error,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// CreateRequest holds the fields needed to create a new run.
type CreateRequest struct {
	ProjectID   string            `json:"project_id"`
	QueryText   string            `json:"query_text"`
	Mode        Mode              `json:"mode,omitempty"`
	Purpose     string            `json:"purpose,omitempty"`
	ParentRunID string            `json:"parent_run_id,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}
