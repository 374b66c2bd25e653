// Package skill defines the contract every executable capability implements
// and the registry the engine resolves skills from.
package skill

import (
	"context"
	"encoding/json"

	"github.com/astrahq/astra/internal/domain/approval"
)

// SafetyScope classifies the side-effect risk of a skill. It drives whether
// the engine opens an approval gate before execution.
type SafetyScope string

const (
	// ScopeSafe skills run without confirmation in any mode.
	ScopeSafe SafetyScope = "safe"
	// ScopeConfirmRequired skills need approval unless the run mode is
	// execute_auto.
	ScopeConfirmRequired SafetyScope = "confirm_required"
	// ScopeDangerous skills need approval in every mode.
	ScopeDangerous SafetyScope = "dangerous"
)

// Manifest describes a skill: its identity, risk class and input contract.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Title       string          `json:"title"`
	Scope       SafetyScope     `json:"scope"`
	SideEffects []string        `json:"side_effects,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Invocation carries everything a skill needs for one execution.
type Invocation struct {
	RunID  string
	TaskID string
	StepID string
	Inputs json.RawMessage
}

// SourceCandidate is an external reference the skill consulted.
type SourceCandidate struct {
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Snippet     string  `json:"snippet,omitempty"`
	Reliability float64 `json:"reliability,omitempty"`
}

// FactCandidate is a claim the skill extracted, referencing sources by
// their position in Result.Sources.
type FactCandidate struct {
	Claim      string  `json:"claim"`
	Confidence float64 `json:"confidence,omitempty"`
	SourceIdx  int     `json:"source_idx,omitempty"`
}

// ConflictCandidate flags two already-stored facts as contradictory.
type ConflictCandidate struct {
	FactAID     string `json:"fact_a_id"`
	FactBID     string `json:"fact_b_id"`
	Description string `json:"description,omitempty"`
}

// ArtifactCandidate is an output the skill produced.
type ArtifactCandidate struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Path    string          `json:"path,omitempty"`
}

// Result is what a skill hands back to the runner. The runner persists the
// candidates to the run's side tables and emits the matching events.
type Result struct {
	Summary    string              `json:"summary"`
	Confidence float64             `json:"confidence,omitempty"`
	Sources    []SourceCandidate   `json:"sources,omitempty"`
	Facts      []FactCandidate     `json:"facts,omitempty"`
	Conflicts  []ConflictCandidate `json:"conflicts,omitempty"`
	Artifacts  []ArtifactCandidate `json:"artifacts,omitempty"`
	Output     json.RawMessage     `json:"output,omitempty"`
}

// Proposal describes the approval a skill wants opened before it runs.
type Proposal struct {
	Scope           approval.Scope
	Title           string
	Description     string
	ProposedActions []string
}

// Skill is the interface every capability implements.
type Skill interface {
	// Manifest returns the skill's static description. Called once at
	// registration; must not vary between calls.
	Manifest() Manifest

	// Execute performs the skill. The context is canceled when the run is
	// canceled or the step times out.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// Proposer is implemented by skills that customize their approval request.
// Skills without it get a generic gate built from the manifest.
type Proposer interface {
	BuildProposal(inputs json.RawMessage) Proposal
}
