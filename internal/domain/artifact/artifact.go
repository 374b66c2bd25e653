// Package artifact defines the research side tables a run accumulates:
// sources consulted, facts extracted from them, conflicts between facts and
// produced artifacts.
package artifact

import (
	"encoding/json"
	"time"
)

// Source is an external reference a run consulted, with an optional
// reliability score in [0,1].
type Source struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
	Reliability float64   `json:"reliability,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Fact is a claim extracted from a source, with a confidence score in [0,1].
type Fact struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	SourceID   string    `json:"source_id,omitempty"`
	Claim      string    `json:"claim"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conflict records two facts that contradict each other.
type Conflict struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	FactAID     string    `json:"fact_a_id"`
	FactBID     string    `json:"fact_b_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is an output a run produced: a report, a saved memory, a created
// reminder, a file.
type Artifact struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Path      string          `json:"path,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Known artifact kinds. Kind is open-ended; these cover the bundled skills.
const (
	KindReport   = "report"
	KindMemory   = "memory"
	KindReminder = "reminder"
	KindFile     = "file"
)
