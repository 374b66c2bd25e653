// Package report implements the report skill: it renders a markdown
// summary from everything the run gathered.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/skill"
)

var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"}
	}
}`)

type inputs struct {
	Title string `json:"title"`
}

// Skill renders the run report from the research side tables.
type Skill struct {
	store database.Store
}

// New creates the report skill.
func New(store database.Store) *Skill {
	return &Skill{store: store}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:        "report",
		Version:     "1.0.0",
		Title:       "Render report",
		Scope:       skill.ScopeSafe,
		InputSchema: inputSchema,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	var in inputs
	if len(inv.Inputs) > 0 {
		if err := json.Unmarshal(inv.Inputs, &in); err != nil {
			return nil, fmt.Errorf("decode inputs: %w", err)
		}
	}

	r, err := s.store.GetRun(ctx, inv.RunID)
	if err != nil {
		return nil, err
	}
	sources, err := s.store.ListSources(ctx, inv.RunID)
	if err != nil {
		return nil, err
	}
	facts, err := s.store.ListFacts(ctx, inv.RunID)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.store.ListConflicts(ctx, inv.RunID)
	if err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = "Run report"
	}
	md := render(title, r.QueryText, sources, facts, conflicts)

	confidence := 0.3
	if len(facts) > 0 {
		confidence = 0.6
	}

	content, _ := json.Marshal(map[string]string{"markdown": md})
	return &skill.Result{
		Summary:    fmt.Sprintf("rendered report with %d sources and %d facts", len(sources), len(facts)),
		Confidence: confidence,
		Artifacts: []skill.ArtifactCandidate{{
			Kind:    "report",
			Title:   title,
			Content: content,
		}},
	}, nil
}

func render(title, query string, sources []artifact.Source, facts []artifact.Fact, conflicts []artifact.Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Query\n%s\n\n", query)

	b.WriteString("## Sources\n")
	if len(sources) == 0 {
		b.WriteString("- none\n")
	}
	for _, s := range sources {
		name := s.Title
		if name == "" {
			name = s.URL
		}
		fmt.Fprintf(&b, "- %s (%s)\n", name, s.URL)
		if s.Snippet != "" {
			fmt.Fprintf(&b, "  - %s\n", s.Snippet)
		}
	}
	b.WriteString("\n## Facts\n")
	if len(facts) == 0 {
		b.WriteString("- none\n")
	}
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s (confidence: %.2f)\n", f.Claim, f.Confidence)
	}
	b.WriteString("\n## Conflicts\n")
	if len(conflicts) == 0 {
		b.WriteString("- none\n")
	}
	for _, c := range conflicts {
		fmt.Fprintf(&b, "- %s\n", c.Description)
	}

	b.WriteString("\n## Summary\n")
	if len(facts) > 0 {
		b.WriteString("- Summary built from the extracted facts.\n")
	} else {
		b.WriteString("- No facts were extracted.\n")
	}
	return b.String()
}
