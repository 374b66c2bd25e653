// Package desktop implements the computer, shell and browser skills. They
// share one implementation: the action is dispatched to the desktop worker
// over NATS request/reply, with a cooperative cancel publish when the run
// is canceled mid-action.
package desktop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/port/messagequeue"
	"github.com/astrahq/astra/internal/port/skill"
)

var inputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["actions"],
	"properties": {
		"actions": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string"}
		}
	}
}`)

type inputs struct {
	Actions []string `json:"actions"`
}

// Skill dispatches one desktop capability to the worker.
type Skill struct {
	name          string
	title         string
	scope         skill.SafetyScope
	approvalScope approval.Scope
	queue         messagequeue.Queue
}

// NewComputer creates the computer skill (mouse, keyboard, screen).
func NewComputer(queue messagequeue.Queue) *Skill {
	return &Skill{
		name:          "computer",
		title:         "Computer control",
		scope:         skill.ScopeConfirmRequired,
		approvalScope: approval.ScopeComputer,
		queue:         queue,
	}
}

// NewShell creates the shell skill (command execution on the desktop).
func NewShell(queue messagequeue.Queue) *Skill {
	return &Skill{
		name:          "shell",
		title:         "Shell command",
		scope:         skill.ScopeDangerous,
		approvalScope: approval.ScopeShell,
		queue:         queue,
	}
}

// NewBrowser creates the browser skill (navigation and page interaction).
func NewBrowser(queue messagequeue.Queue) *Skill {
	return &Skill{
		name:          "browser",
		title:         "Browser control",
		scope:         skill.ScopeConfirmRequired,
		approvalScope: approval.ScopeBrowser,
		queue:         queue,
	}
}

func (s *Skill) Manifest() skill.Manifest {
	return skill.Manifest{
		Name:        s.name,
		Version:     "1.0.0",
		Title:       s.title,
		Scope:       s.scope,
		SideEffects: []string{"desktop_action"},
		InputSchema: inputSchema,
	}
}

// BuildProposal implements skill.Proposer so the approval gate shows the
// concrete actions the worker would perform.
func (s *Skill) BuildProposal(raw json.RawMessage) skill.Proposal {
	var in inputs
	_ = json.Unmarshal(raw, &in)
	return skill.Proposal{
		Scope:           s.approvalScope,
		Title:           s.title,
		Description:     fmt.Sprintf("Dispatch %d %s action(s) to the desktop worker", len(in.Actions), s.name),
		ProposedActions: in.Actions,
	}
}

func (s *Skill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	payload, err := json.Marshal(messagequeue.ExecRequest{
		RunID:  inv.RunID,
		TaskID: inv.TaskID,
		Action: s.name,
		Inputs: inv.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode exec request: %w", err)
	}

	reply, err := s.queue.Request(ctx, messagequeue.SubjectDesktopExec, payload)
	if err != nil {
		if ctx.Err() != nil {
			s.publishCancel(inv)
			return nil, ctx.Err()
		}
		// Worker unreachable or timed out; worth retrying.
		return nil, skill.Retryable(fmt.Errorf("desktop exec: %w", err))
	}

	var result messagequeue.ExecResult
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, fmt.Errorf("decode exec result: %w", err)
	}
	if !result.OK {
		err := fmt.Errorf("desktop worker: %s", result.Error)
		if result.Retryable {
			return nil, skill.Retryable(err)
		}
		return nil, err
	}

	return &skill.Result{
		Summary:    fmt.Sprintf("%s actions executed by desktop worker", s.name),
		Confidence: 0.6,
		Output:     result.Output,
	}, nil
}

// publishCancel tells the worker to abort the in-flight action. Best
// effort: the run is already being torn down.
func (s *Skill) publishCancel(inv skill.Invocation) {
	payload, err := json.Marshal(messagequeue.CancelRequest{RunID: inv.RunID, TaskID: inv.TaskID})
	if err != nil {
		return
	}
	_ = s.queue.Publish(context.Background(), messagequeue.SubjectDesktopCancel, payload)
}
