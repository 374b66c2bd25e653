package messagequeue

import "encoding/json"

// ExecRequest is the payload sent on SubjectDesktopExec. Action names the
// capability the worker should perform; Inputs carries its arguments.
type ExecRequest struct {
	RunID  string          `json:"run_id"`
	TaskID string          `json:"task_id"`
	Action string          `json:"action"`
	Inputs json.RawMessage `json:"inputs,omitempty"`
}

// ExecResult is the worker's reply to an ExecRequest.
type ExecResult struct {
	TaskID string          `json:"task_id"`
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Retryable marks transient failures the engine may retry.
	Retryable bool `json:"retryable,omitempty"`
}

// CancelRequest is the payload sent on SubjectDesktopCancel.
type CancelRequest struct {
	RunID  string `json:"run_id"`
	TaskID string `json:"task_id"`
}

// ReminderFire is the payload published on SubjectReminderFire when a
// scheduled reminder comes due.
type ReminderFire struct {
	ReminderID string `json:"reminder_id"`
	RunID      string `json:"run_id,omitempty"`
	Message    string `json:"message"`
	FiredAt    string `json:"fired_at"`
}
