// Package service implements the run execution engine: run lifecycle,
// plan acceptance, the per-run task runner, the approval gate, snapshots
// and reminders.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astrahq/astra/internal/adapter/otel"
	"github.com/astrahq/astra/internal/config"
	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/project"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/port/broadcast"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/eventlog"
	"github.com/astrahq/astra/internal/port/skill"
)

// Engine drives runs through their lifecycle. It owns one dispatch loop
// per active run; all status changes go through the store's compare-and-set
// so API commands and the runner never race each other into an invalid state.
type Engine struct {
	store     database.Store
	events    eventlog.Log
	hub       broadcast.Broadcaster
	registry  *skill.Registry
	approvals *ApprovalService
	metrics   *otel.Metrics
	cfg       config.Engine
	logger    *slog.Logger

	// controllers maps run ID to its active dispatch loop.
	controllers sync.Map
}

// NewEngine wires the run execution engine.
func NewEngine(
	store database.Store,
	events eventlog.Log,
	hub broadcast.Broadcaster,
	registry *skill.Registry,
	approvals *ApprovalService,
	metrics *otel.Metrics,
	cfg config.Engine,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		events:    events,
		hub:       hub,
		registry:  registry,
		approvals: approvals,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateRun registers a new run in status created and emits run_created.
func (e *Engine) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	if req.QueryText == "" {
		return nil, fmt.Errorf("%w: query_text is required", domain.ErrValidation)
	}
	if req.Mode == "" {
		req.Mode = run.ModeExecuteConfirm
	}
	switch req.Mode {
	case run.ModePlanOnly, run.ModeExecuteConfirm, run.ModeExecuteAuto:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, req.Mode)
	}
	if req.ProjectID == "" {
		p, err := e.store.GetProjectByName(ctx, project.DefaultName)
		if err != nil {
			return nil, fmt.Errorf("resolve default project: %w", err)
		}
		req.ProjectID = p.ID
	}

	payload, _ := json.Marshal(map[string]string{"query_text": req.QueryText, "mode": string(req.Mode)})
	ev := &event.Event{Type: event.TypeRunCreated, Payload: payload}
	r, err := e.store.CreateRun(ctx, req, ev)
	if err != nil {
		return nil, err
	}
	e.hub.Publish(ctx, *ev)

	e.logger.Info("run created", "run_id", r.ID, "mode", r.Mode)
	return r, nil
}

// GetRun returns the run record.
func (e *Engine) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return e.store.GetRun(ctx, id)
}

// ListRuns returns recent runs, optionally scoped to a project.
func (e *Engine) ListRuns(ctx context.Context, projectID string, limit int) ([]run.Run, error) {
	return e.store.ListRuns(ctx, projectID, limit)
}

// AcceptPlan stores the planner's step list for a run in status created and
// moves the run to planning. The plan's structure is immutable afterwards.
func (e *Engine) AcceptPlan(ctx context.Context, runID string, specs []plan.StepSpec) ([]plan.Step, error) {
	if err := plan.ValidateSpecs(specs, e.registry.Has); err != nil {
		return nil, err
	}
	for i, spec := range specs {
		if err := e.registry.ValidateInputs(spec.SkillName, spec.Inputs); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	payload, _ := json.Marshal(map[string]int{"step_count": len(specs)})
	ev := &event.Event{RunID: runID, Type: event.TypePlanCreated, Payload: payload}
	if _, err := e.store.TransitionRun(ctx, runID, run.StatusPlanning, "", ev); err != nil {
		return nil, err
	}

	steps, err := e.store.CreatePlan(ctx, runID, specs)
	if err != nil {
		return nil, err
	}
	e.hub.Publish(ctx, *ev)

	e.logger.Info("plan accepted", "run_id", runID, "steps", len(steps))
	return steps, nil
}

// Start moves a planned run to running and launches its dispatch loop.
// Plan-only runs never start.
func (e *Engine) Start(ctx context.Context, runID string) (*run.Run, error) {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Mode == run.ModePlanOnly {
		return nil, fmt.Errorf("%w: plan-only runs cannot start", domain.ErrValidation)
	}
	if r.Status != run.StatusPlanning {
		if r.Status.IsTerminal() {
			return nil, fmt.Errorf("run %s is %s: %w", runID, r.Status, domain.ErrTerminal)
		}
		return nil, fmt.Errorf("run %s is %s, expected planning: %w", runID, r.Status, domain.ErrConflict)
	}

	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: run %s has no accepted plan", domain.ErrConflict, runID)
	}

	ev := &event.Event{RunID: runID, Type: event.TypeRunStarted}
	r, err = e.store.TransitionRun(ctx, runID, run.StatusRunning, "", ev)
	if err != nil {
		return nil, err
	}

	e.hub.Publish(ctx, *ev)
	if e.metrics != nil {
		e.metrics.RunsStarted.Add(ctx, 1)
	}

	e.startController(runID)
	e.logger.Info("run started", "run_id", runID)
	return r, nil
}

// Pause stops dispatching new steps; in-flight tasks finish normally.
func (e *Engine) Pause(ctx context.Context, runID string) (*run.Run, error) {
	ev := &event.Event{RunID: runID, Type: event.TypeRunPaused}
	r, err := e.store.TransitionRun(ctx, runID, run.StatusPaused, "", ev)
	if err != nil {
		return nil, err
	}
	e.hub.Publish(ctx, *ev)
	e.kick(runID)
	e.logger.Info("run paused", "run_id", runID)
	return r, nil
}

// Resume continues dispatching eligible steps of a paused run.
func (e *Engine) Resume(ctx context.Context, runID string) (*run.Run, error) {
	ev := &event.Event{RunID: runID, Type: event.TypeRunResumed}
	r, err := e.store.TransitionRun(ctx, runID, run.StatusRunning, "", ev)
	if err != nil {
		return nil, err
	}
	e.hub.Publish(ctx, *ev)
	// The loop may be gone after a restart.
	e.startController(runID)
	e.kick(runID)
	e.logger.Info("run resumed", "run_id", runID)
	return r, nil
}

// Cancel terminates a run at the next safe checkpoint. The in-flight skill
// invocation is signaled to stop; its result is discarded.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) (*run.Run, error) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	ev := &event.Event{RunID: runID, Type: event.TypeRunCanceled, Payload: payload}
	r, err := e.store.TransitionRun(ctx, runID, run.StatusCanceled, "", ev)
	if err != nil {
		return nil, err
	}
	e.hub.Publish(ctx, *ev)

	if val, ok := e.controllers.Load(runID); ok {
		val.(*runController).cancel()
	} else {
		// No loop running (run never started or process restarted):
		// sweep the remaining steps here.
		e.cancelRemainingSteps(ctx, runID)
	}

	e.logger.Info("run canceled", "run_id", runID, "reason", reason)
	return r, nil
}

// RetryStep re-queues a failed step (and its canceled transitive
// dependents) of a running or paused run.
func (e *Engine) RetryStep(ctx context.Context, runID, stepID string) error {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("run %s is %s: %w", runID, r.Status, domain.ErrTerminal)
	}
	if r.Status != run.StatusRunning && r.Status != run.StatusPaused {
		return fmt.Errorf("run %s is %s: %w", runID, r.Status, domain.ErrConflict)
	}

	st, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if st.RunID != runID {
		return fmt.Errorf("step %s does not belong to run %s: %w", stepID, runID, domain.ErrValidation)
	}
	if st.Status != plan.StepStatusFailed {
		return fmt.Errorf("step %s is %s, only failed steps can be retried: %w", stepID, st.Status, domain.ErrConflict)
	}

	if err := e.store.UpdateStepStatus(ctx, stepID, plan.StepStatusCreated); err != nil {
		return err
	}

	// Steps canceled because they depended on the failed one become
	// eligible again.
	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	for _, depID := range plan.Dependents(steps, stepID) {
		for _, s := range steps {
			if s.ID == depID && s.Status == plan.StepStatusCanceled {
				if err := e.store.UpdateStepStatus(ctx, depID, plan.StepStatusCreated); err != nil {
					return err
				}
			}
		}
	}

	e.startController(runID)
	e.kick(runID)
	e.logger.Info("step retry requested", "run_id", runID, "step_id", stepID)
	return nil
}

// Recover restarts dispatch loops for runs left in running state by a
// previous process. Called once at startup.
func (e *Engine) Recover(ctx context.Context) error {
	runs, err := e.store.ListRuns(ctx, "", 500)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	for _, r := range runs {
		if r.Status == run.StatusRunning {
			e.logger.Info("recovering run", "run_id", r.ID)
			e.startController(r.ID)
		}
	}
	return nil
}

// Shutdown stops all dispatch loops without touching run state; running
// runs are picked up again by Recover on the next start.
func (e *Engine) Shutdown() {
	e.controllers.Range(func(_, val any) bool {
		val.(*runController).cancel()
		return true
	})
}
