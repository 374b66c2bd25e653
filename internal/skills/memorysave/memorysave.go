// Package memorysave implements the memory_save skill: it persists a
// durable memory item for the user.
package memorysave

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/astrahq/astra/internal/domain/memory"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/skill"
)

var inputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["content"],
	"properties": {
		"content": {"type": "string", "minLength": 1},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`)

type inputs struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// Skill writes memory items through the store.
type Skill struct {
	store database.Store
}

// New creates the memory_save skill.
func New(store database.Store) *Skill {
	return &Skill{store: store}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:        "memory_save",
		Version:     "1.0.0",
		Title:       "Save memory",
		Scope:       skill.ScopeSafe,
		SideEffects: []string{"local_write"},
		InputSchema: inputSchema,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	var in inputs
	if err := json.Unmarshal(inv.Inputs, &in); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}

	item, err := s.store.SaveMemory(ctx, memory.SaveRequest{
		RunID:   inv.RunID,
		Content: in.Content,
		Tags:    in.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}

	content, _ := json.Marshal(item)
	return &skill.Result{
		Summary:    "memory item saved",
		Confidence: 1.0,
		Artifacts: []skill.ArtifactCandidate{{
			Kind:    "memory",
			Title:   in.Content,
			Content: content,
		}},
	}, nil
}
