// Package plan defines the PlanStep domain entity: the ordered,
// dependency-annotated units of work produced by the planner for one run.
package plan

import (
	"encoding/json"
	"time"
)

// StepStatus represents the lifecycle state of an individual plan step.
type StepStatus string

const (
	StepStatusCreated  StepStatus = "created"
	StepStatusRunning  StepStatus = "running"
	StepStatusDone     StepStatus = "done"
	StepStatusFailed   StepStatus = "failed"
	StepStatusCanceled StepStatus = "canceled"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusDone, StepStatusFailed, StepStatusCanceled:
		return true
	}
	return false
}

// Step represents one planned unit of work within a run. The structure is
// immutable after plan acceptance; only Status changes during execution.
type Step struct {
	ID               string          `json:"id"`
	RunID            string          `json:"run_id"`
	Index            int             `json:"index"`
	Title            string          `json:"title"`
	SkillName        string          `json:"skill_name"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty"`
	DangerFlags      []string        `json:"danger_flags,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           StepStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// StepSpec is one step as delivered by the external planner. DependsOn refers
// to zero-based step indices ("0", "1") at acceptance time; the store remaps
// them to step IDs.
type StepSpec struct {
	Title            string          `json:"title"`
	SkillName        string          `json:"skill_name"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	DependsOn        []string        `json:"depends_on,omitempty"`
	DangerFlags      []string        `json:"danger_flags,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}
