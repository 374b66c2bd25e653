// Package conflictscan implements the conflict_scan skill: it groups the
// run's extracted facts by claim key and flags groups whose values disagree.
package conflictscan

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/skill"
)

// Skill scans stored facts for contradictions.
type Skill struct {
	store database.Store
}

// New creates the conflict_scan skill.
func New(store database.Store) *Skill {
	return &Skill{store: store}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:    "conflict_scan",
		Version: "1.0.0",
		Title:   "Scan facts for conflicts",
		Scope:   skill.ScopeSafe,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	facts, err := s.store.ListFacts(ctx, inv.RunID)
	if err != nil {
		return nil, err
	}

	conflicts := findConflicts(facts)

	confidence := 1.0
	if len(conflicts) > 0 {
		confidence = 0.5
	}
	return &skill.Result{
		Summary:    fmt.Sprintf("scanned %d facts, found %d conflicts", len(facts), len(conflicts)),
		Confidence: confidence,
		Conflicts:  conflicts,
	}, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(text string) string {
	text = slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "_")
	return strings.Trim(text, "_")
}

// claimKey splits a "key: value" claim. Claims without a colon have no
// comparable value and never conflict.
func claimKey(claim string) (key, value string, ok bool) {
	k, v, found := strings.Cut(claim, ":")
	if !found {
		return "", "", false
	}
	return slug(k), strings.TrimSpace(v), true
}

// findConflicts pairs the first fact of each claim key with every later fact
// whose value disagrees.
func findConflicts(facts []artifact.Fact) []skill.ConflictCandidate {
	type entry struct {
		fact  artifact.Fact
		value string
	}
	grouped := make(map[string][]entry)
	var order []string
	for _, f := range facts {
		key, value, ok := claimKey(f.Claim)
		if !ok || key == "" {
			continue
		}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], entry{fact: f, value: value})
	}

	var out []skill.ConflictCandidate
	for _, key := range order {
		group := grouped[key]
		first := group[0]
		for _, other := range group[1:] {
			if strings.EqualFold(other.value, first.value) {
				continue
			}
			out = append(out, skill.ConflictCandidate{
				FactAID:     first.fact.ID,
				FactBID:     other.fact.ID,
				Description: fmt.Sprintf("conflicting values for %s: %q vs %q", key, first.value, other.value),
			})
		}
	}
	return out
}
