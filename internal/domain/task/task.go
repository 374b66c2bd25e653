// Package task defines the Task domain entity: one execution attempt of a
// plan step. One step can have multiple tasks (retries, manual re-runs).
package task

import "time"

// Status represents the current state of a task attempt.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusWaitingApproval Status = "waiting_approval"
	StatusRunning         Status = "running"
	StatusDone            Status = "done"
	StatusFailed          Status = "failed"
	StatusCanceled        Status = "canceled"
)

// IsTerminal returns true if the task reached a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Task represents a single execution attempt of a plan step. Attempt numbers
// are strictly increasing per step; at most one task per step is running at
// any instant.
type Task struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	StepID     string     `json:"step_id"`
	Attempt    int        `json:"attempt"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
