// Package approval defines the Approval domain entity: a human-confirmation
// gate that blocks a risky step until explicitly approved or rejected.
package approval

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// IsDecided returns true once the approval has a final outcome.
func (s Status) IsDecided() bool { return s != StatusPending }

// Scope identifies the capability class a pending approval guards.
type Scope string

const (
	ScopeComputer  Scope = "computer"
	ScopeShell     Scope = "shell"
	ScopeBrowser   Scope = "browser"
	ScopeAutopilot Scope = "autopilot"
)

// Decision is the outcome requested by the resolving caller.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Approval is a pending or resolved request for human confirmation before a
// risky step proceeds. Exactly one outcome per approval; once decided it is
// immutable.
type Approval struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	TaskID          string          `json:"task_id"`
	StepID          string          `json:"step_id,omitempty"`
	Scope           Scope           `json:"scope"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	ProposedActions []string        `json:"proposed_actions,omitempty"`
	Status          Status          `json:"status"`
	DecisionDetail  json.RawMessage `json:"decision_detail,omitempty"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
}

// Request holds the fields the task runner provides when opening a gate.
type Request struct {
	RunID           string   `json:"run_id"`
	TaskID          string   `json:"task_id"`
	StepID          string   `json:"step_id,omitempty"`
	Scope           Scope    `json:"scope"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	ProposedActions []string `json:"proposed_actions,omitempty"`
}
