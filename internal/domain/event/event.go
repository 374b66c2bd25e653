// Package event defines the append-only run event log entry. Events are the
// single source of truth for what happened during a run: every state change
// is recorded here before it is broadcast to live subscribers.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies what happened. The vocabulary is closed; consumers switch
// on it to drive timelines and notifications.
type Type string

const (
	TypeRunCreated  Type = "run_created"
	TypeRunStarted  Type = "run_started"
	TypeRunDone     Type = "run_done"
	TypeRunFailed   Type = "run_failed"
	TypeRunCanceled Type = "run_canceled"
	TypeRunPaused   Type = "run_paused"
	TypeRunResumed  Type = "run_resumed"

	TypePlanCreated Type = "plan_created"

	TypeTaskQueued   Type = "task_queued"
	TypeTaskStarted  Type = "task_started"
	TypeTaskProgress Type = "task_progress"
	TypeTaskDone     Type = "task_done"
	TypeTaskFailed   Type = "task_failed"
	TypeTaskRetried  Type = "task_retried"

	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalResolved  Type = "approval_resolved"
	TypeApprovalApproved  Type = "approval_approved"
	TypeApprovalRejected  Type = "approval_rejected"
	TypeApprovalExpired   Type = "approval_expired"

	TypeReminderDue  Type = "reminder_due"
	TypeReminderSent Type = "reminder_sent"

	TypeSourceFound      Type = "source_found"
	TypeFactExtracted    Type = "fact_extracted"
	TypeConflictDetected Type = "conflict_detected"
	TypeArtifactCreated  Type = "artifact_created"
)

// Level classifies event severity for display filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one entry in a run's append-only log. Seq is assigned by the log
// at append time: contiguous per run, starting at 1, with no gaps.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Type      Type            `json:"type"`
	Level     Level           `json:"level"`
	TaskID    string          `json:"task_id,omitempty"`
	StepID    string          `json:"step_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an unsequenced event ready for appending. The log fills in ID,
// Seq and CreatedAt.
func New(runID string, typ Type, payload json.RawMessage) Event {
	return Event{RunID: runID, Type: typ, Level: LevelInfo, Payload: payload}
}

// IsTerminalRunEvent reports whether the event marks the end of its run.
// Stream consumers use it to close subscriptions cleanly.
func (e Event) IsTerminalRunEvent() bool {
	switch e.Type {
	case TypeRunDone, TypeRunFailed, TypeRunCanceled:
		return true
	}
	return false
}
