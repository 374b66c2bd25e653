// Package remindercreate implements the reminder_create skill: it persists
// a reminder and registers it with the scheduler.
package remindercreate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/reminder"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/skill"
)

var inputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string", "minLength": 1},
		"at": {"type": "string", "format": "date-time"},
		"cron": {"type": "string"}
	}
}`)

type inputs struct {
	Message string `json:"message"`
	At      string `json:"at"`
	Cron    string `json:"cron"`
}

// Scheduler registers a stored reminder for firing. Implemented by the
// reminder service.
type Scheduler interface {
	Schedule(r reminder.Reminder) error
}

// Skill creates reminders through the store and scheduler.
type Skill struct {
	store     database.Store
	scheduler Scheduler
}

// New creates the reminder_create skill.
func New(store database.Store, scheduler Scheduler) *Skill {
	return &Skill{store: store, scheduler: scheduler}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:        "reminder_create",
		Version:     "1.0.0",
		Title:       "Create reminder",
		Scope:       skill.ScopeSafe,
		SideEffects: []string{"local_write", "scheduled_notification"},
		InputSchema: inputSchema,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	var in inputs
	if err := json.Unmarshal(inv.Inputs, &in); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if in.At == "" && in.Cron == "" {
		return nil, fmt.Errorf("%w: reminder needs either at or cron", domain.ErrValidation)
	}

	req := reminder.CreateRequest{
		RunID:    inv.RunID,
		Message:  in.Message,
		CronExpr: in.Cron,
	}
	if in.At != "" {
		at, err := time.Parse(time.RFC3339, in.At)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid at timestamp %q", domain.ErrValidation, in.At)
		}
		req.At = &at
	}

	r, err := s.store.CreateReminder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	if err := s.scheduler.Schedule(*r); err != nil {
		return nil, fmt.Errorf("schedule reminder %s: %w", r.ID, err)
	}

	content, _ := json.Marshal(r)
	return &skill.Result{
		Summary:    fmt.Sprintf("reminder %s created", r.ID),
		Confidence: 1.0,
		Artifacts: []skill.ArtifactCandidate{{
			Kind:    "reminder",
			Title:   in.Message,
			Content: content,
		}},
	}, nil
}
