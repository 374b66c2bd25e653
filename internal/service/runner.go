package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/domain/task"
	"github.com/astrahq/astra/internal/port/skill"
)

// runController is the handle to one run's dispatch loop.
type runController struct {
	cancel context.CancelFunc
	kick   chan struct{}
}

// startController launches the dispatch loop for a run unless one is
// already active. There is exactly one loop per run id.
func (e *Engine) startController(runID string) {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := &runController{cancel: cancel, kick: make(chan struct{}, 1)}
	if _, loaded := e.controllers.LoadOrStore(runID, ctrl); loaded {
		cancel()
		return
	}
	go e.runLoop(ctx, runID, ctrl)
}

// kick nudges a run's loop to re-evaluate state immediately.
func (e *Engine) kick(runID string) {
	if val, ok := e.controllers.Load(runID); ok {
		select {
		case val.(*runController).kick <- struct{}{}:
		default:
		}
	}
}

// runLoop is the cooperative single-flow driver for one run. Each pass it
// re-reads run state, reaps failed branches, dispatches eligible steps up
// to the concurrency bound, and finalizes the run when every step is
// terminal. It blocks between passes until a step finishes, a command
// kicks it, or the run is canceled.
func (e *Engine) runLoop(ctx context.Context, runID string, ctrl *runController) {
	defer e.controllers.Delete(runID)

	maxParallel := e.cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	completed := make(chan string, maxParallel)
	inFlight := make(map[string]bool)

	for {
		if ctx.Err() != nil {
			e.drainAndSweep(runID, inFlight, completed)
			return
		}

		r, err := e.store.GetRun(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				e.drainAndSweep(runID, inFlight, completed)
				return
			}
			e.logger.Error("dispatch loop cannot read run", "run_id", runID, "error", err)
			return
		}

		switch r.Status {
		case run.StatusCanceled:
			e.drainAndSweep(runID, inFlight, completed)
			return
		case run.StatusDone, run.StatusFailed:
			return
		case run.StatusPaused:
			// In-flight tasks finish; nothing new dispatches until resume.
			select {
			case <-ctx.Done():
			case <-ctrl.kick:
			case stepID := <-completed:
				delete(inFlight, stepID)
			}
			continue
		}

		steps, err := e.store.ListSteps(ctx, runID)
		if err != nil {
			e.logger.Error("dispatch loop cannot list steps", "run_id", runID, "error", err)
			return
		}

		if e.reapFailedBranches(ctx, steps) {
			continue
		}

		if plan.AllTerminal(steps) && len(inFlight) == 0 {
			e.finalizeRun(runID, r, steps)
			return
		}

		dispatched := false
		for _, stepID := range plan.ReadySteps(steps) {
			if inFlight[stepID] || len(inFlight) >= maxParallel {
				continue
			}
			st := stepByID(steps, stepID)
			if st == nil {
				continue
			}
			inFlight[stepID] = true
			dispatched = true
			go func(st plan.Step) {
				e.executeStep(ctx, *r, st)
				completed <- st.ID
			}(*st)
		}
		if dispatched {
			continue
		}

		select {
		case <-ctx.Done():
		case <-ctrl.kick:
		case stepID := <-completed:
			delete(inFlight, stepID)
		}
	}
}

// reapFailedBranches cancels created steps that transitively depend on a
// failed step. Independent branches keep going; the run fails at the end.
func (e *Engine) reapFailedBranches(ctx context.Context, steps []plan.Step) bool {
	changed := false
	for _, st := range steps {
		if st.Status != plan.StepStatusFailed {
			continue
		}
		for _, depID := range plan.Dependents(steps, st.ID) {
			dep := stepByID(steps, depID)
			if dep == nil || dep.Status != plan.StepStatusCreated {
				continue
			}
			if err := e.store.UpdateStepStatus(ctx, depID, plan.StepStatusCanceled); err != nil {
				e.logger.Error("cancel dependent step failed", "step_id", depID, "error", err)
				continue
			}
			changed = true
		}
	}
	return changed
}

// finalizeRun moves the run to done or failed once all steps are terminal.
// The transition and its event commit together; if either fails the run
// stays running and a later pass (or Recover after a restart) finalizes it.
// A concurrent cancel wins the compare-and-set; then there is nothing to do.
func (e *Engine) finalizeRun(runID string, r *run.Run, steps []plan.Step) {
	ctx := context.Background()

	target := run.StatusDone
	evType := event.TypeRunDone
	errMsg := ""
	if plan.AnyFailed(steps) {
		target = run.StatusFailed
		evType = event.TypeRunFailed
		errMsg = "one or more steps failed"
	}

	ev := &event.Event{RunID: runID, Type: evType}
	if target == run.StatusFailed {
		ev.Level = event.LevelError
	}
	final, err := e.store.TransitionRun(ctx, runID, target, errMsg, ev)
	if err != nil {
		e.logger.Warn("run finalization did not commit", "run_id", runID, "error", err)
		return
	}
	e.hub.Publish(ctx, *ev)

	if e.metrics != nil {
		if target == run.StatusFailed {
			e.metrics.RunsFailed.Add(ctx, 1)
		} else {
			e.metrics.RunsCompleted.Add(ctx, 1)
		}
		if final.StartedAt != nil && final.FinishedAt != nil {
			e.metrics.RunDuration.Record(ctx, final.FinishedAt.Sub(*final.StartedAt).Seconds())
		}
	}
	e.logger.Info("run finalized", "run_id", runID, "status", target)
}

// drainAndSweep waits for in-flight tasks to observe cancellation, then
// marks every step that never reached a terminal state as canceled.
func (e *Engine) drainAndSweep(runID string, inFlight map[string]bool, completed chan string) {
	for len(inFlight) > 0 {
		stepID := <-completed
		delete(inFlight, stepID)
	}
	e.cancelRemainingSteps(context.Background(), runID)
}

func (e *Engine) cancelRemainingSteps(ctx context.Context, runID string) {
	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		e.logger.Error("cancel sweep cannot list steps", "run_id", runID, "error", err)
		return
	}
	for _, st := range steps {
		if st.Status.IsTerminal() {
			continue
		}
		if err := e.store.UpdateStepStatus(ctx, st.ID, plan.StepStatusCanceled); err != nil {
			e.logger.Error("cancel sweep step update failed", "step_id", st.ID, "error", err)
		}
	}
}

func stepByID(steps []plan.Step, id string) *plan.Step {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

// executeStep runs one plan step to a terminal state: approval gate if
// required, then up to max_attempts skill invocations with exponential
// backoff between retryable failures.
func (e *Engine) executeStep(ctx context.Context, r run.Run, st plan.Step) {
	logger := e.logger.With("run_id", r.ID, "step_id", st.ID, "skill", st.SkillName)

	t, err := e.store.CreateTask(ctx, r.ID, st.ID)
	if err != nil {
		logger.Error("create task failed", "error", err)
		return
	}
	e.emitTask(ctx, r.ID, t.ID, st.ID, event.TypeTaskQueued, event.LevelInfo, nil)

	sk, err := e.registry.Get(st.SkillName)
	if err != nil {
		e.failTaskAndStep(ctx, r.ID, t.ID, st.ID, err.Error(), 0)
		return
	}

	if e.needsApproval(r.Mode, sk.Manifest(), st) {
		ok, err := e.gate(ctx, r, st, sk, t.ID)
		if err != nil {
			// Run canceled while waiting.
			bg := context.Background()
			_ = e.store.FinishTask(bg, t.ID, task.StatusCanceled, "run canceled", 0)
			_ = e.store.UpdateStepStatus(bg, st.ID, plan.StepStatusCanceled)
			return
		}
		if !ok {
			e.failTaskAndStep(ctx, r.ID, t.ID, st.ID, "rejected by user", 0)
			return
		}
	}

	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	if e.cfg.RetryBaseDelay > 0 {
		bo.InitialInterval = e.cfg.RetryBaseDelay
	}
	if e.cfg.RetryMaxDelay > 0 {
		bo.MaxInterval = e.cfg.RetryMaxDelay
	}

	inv := skill.Invocation{RunID: r.ID, TaskID: t.ID, StepID: st.ID, Inputs: st.Inputs}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			nt, err := e.store.CreateTask(ctx, r.ID, st.ID)
			if err != nil {
				logger.Error("create retry task failed", "error", err)
				return
			}
			t = nt
			inv.TaskID = t.ID
			payload, _ := json.Marshal(map[string]int{"attempt": attempt})
			e.emitTask(ctx, r.ID, t.ID, st.ID, event.TypeTaskRetried, event.LevelWarn, payload)
			if e.metrics != nil {
				e.metrics.TaskRetries.Add(ctx, 1)
			}
		}

		_ = e.store.UpdateTaskStatus(ctx, t.ID, task.StatusRunning)
		_ = e.store.UpdateStepStatus(ctx, st.ID, plan.StepStatusRunning)
		e.emitTask(ctx, r.ID, t.ID, st.ID, event.TypeTaskStarted, event.LevelInfo, nil)

		stepCtx := ctx
		var cancelTimeout context.CancelFunc
		if e.cfg.StepTimeout > 0 {
			stepCtx, cancelTimeout = context.WithTimeout(ctx, e.cfg.StepTimeout)
		}
		start := time.Now()
		res, execErr := sk.Execute(stepCtx, inv)
		if cancelTimeout != nil {
			cancelTimeout()
		}
		durMS := time.Since(start).Milliseconds()

		if e.metrics != nil {
			e.metrics.TasksExecuted.Add(ctx, 1)
			e.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
		}

		if ctx.Err() != nil {
			// Run canceled mid-invocation: discard any result.
			bg := context.Background()
			_ = e.store.FinishTask(bg, t.ID, task.StatusCanceled, "run canceled", durMS)
			_ = e.store.UpdateStepStatus(bg, st.ID, plan.StepStatusCanceled)
			return
		}

		if execErr == nil {
			e.persistResult(ctx, r.ID, t.ID, res)
			_ = e.store.FinishTask(ctx, t.ID, task.StatusDone, "", durMS)
			_ = e.store.UpdateStepStatus(ctx, st.ID, plan.StepStatusDone)
			payload, _ := json.Marshal(map[string]any{"duration_ms": durMS, "summary": res.Summary})
			e.emitTask(ctx, r.ID, t.ID, st.ID, event.TypeTaskDone, event.LevelInfo, payload)
			return
		}

		retryable := skill.IsRetryable(execErr) || errors.Is(execErr, context.DeadlineExceeded)
		_ = e.store.FinishTask(ctx, t.ID, task.StatusFailed, execErr.Error(), durMS)
		payload, _ := json.Marshal(map[string]any{"error": execErr.Error(), "attempt": attempt, "retryable": retryable})
		e.emitTask(ctx, r.ID, t.ID, st.ID, event.TypeTaskFailed, event.LevelError, payload)

		if !retryable || attempt >= maxAttempts {
			_ = e.store.UpdateStepStatus(ctx, st.ID, plan.StepStatusFailed)
			logger.Warn("step failed", "attempt", attempt, "error", execErr)
			return
		}

		select {
		case <-ctx.Done():
			bg := context.Background()
			_ = e.store.UpdateStepStatus(bg, st.ID, plan.StepStatusCanceled)
			return
		case <-time.After(bo.NextBackOff()):
		}

		if err := e.waitWhilePaused(ctx, r.ID, st.ID); err != nil {
			return
		}
	}
}

// waitWhilePaused parks a pending retry while its run is paused, so a pause
// between attempts stops burning attempts in the background. It returns nil
// once the run is dispatchable again and an error when the wait is aborted.
func (e *Engine) waitWhilePaused(ctx context.Context, runID, stepID string) error {
	for {
		r, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		switch r.Status {
		case run.StatusCanceled:
			_ = e.store.UpdateStepStatus(context.Background(), stepID, plan.StepStatusCanceled)
			return context.Canceled
		case run.StatusPaused:
		default:
			return nil
		}

		select {
		case <-ctx.Done():
			_ = e.store.UpdateStepStatus(context.Background(), stepID, plan.StepStatusCanceled)
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// needsApproval decides whether a step passes the gate: the planner's flag,
// a confirm_required skill outside autonomous mode, or a dangerous skill in
// any mode.
func (e *Engine) needsApproval(mode run.Mode, m skill.Manifest, st plan.Step) bool {
	if st.RequiresApproval {
		return true
	}
	switch m.Scope {
	case skill.ScopeDangerous:
		return true
	case skill.ScopeConfirmRequired:
		return mode != run.ModeExecuteAuto
	}
	return false
}

// gate opens an approval and parks until it is decided. Returns whether
// execution may proceed; err is set only when the wait itself was aborted.
func (e *Engine) gate(ctx context.Context, r run.Run, st plan.Step, sk skill.Skill, taskID string) (bool, error) {
	_ = e.store.UpdateTaskStatus(ctx, taskID, task.StatusWaitingApproval)

	prop := skill.Proposal{
		Scope:       approval.ScopeAutopilot,
		Title:       st.Title,
		Description: "Step requires confirmation before execution",
	}
	if p, ok := sk.(skill.Proposer); ok {
		prop = p.BuildProposal(st.Inputs)
	}

	a, err := e.approvals.Request(ctx, approval.Request{
		RunID:           r.ID,
		TaskID:          taskID,
		StepID:          st.ID,
		Scope:           prop.Scope,
		Title:           prop.Title,
		Description:     prop.Description,
		ProposedActions: prop.ProposedActions,
	})
	if err != nil {
		return false, err
	}

	status, err := e.approvals.Wait(ctx, a.ID)
	if err != nil {
		// Nobody is coming back for this approval; close it out so it
		// does not linger in the pending list.
		e.approvals.AbortPending(context.Background(), a.ID, "run canceled")
		return false, err
	}
	return status == approval.StatusApproved, nil
}

func (e *Engine) failTaskAndStep(ctx context.Context, runID, taskID, stepID, reason string, durMS int64) {
	_ = e.store.FinishTask(ctx, taskID, task.StatusFailed, reason, durMS)
	payload, _ := json.Marshal(map[string]string{"error": reason})
	e.emitTask(ctx, runID, taskID, stepID, event.TypeTaskFailed, event.LevelError, payload)
	_ = e.store.UpdateStepStatus(ctx, stepID, plan.StepStatusFailed)
}

// persistResult writes the skill's source, fact and artifact candidates to
// the run's side tables, emitting the matching events.
func (e *Engine) persistResult(ctx context.Context, runID, taskID string, res *skill.Result) {
	if res == nil {
		return
	}

	sourceIDs := make([]string, len(res.Sources))
	for i, sc := range res.Sources {
		src, err := e.store.AddSource(ctx, artifact.Source{
			RunID:       runID,
			URL:         sc.URL,
			Title:       sc.Title,
			Snippet:     sc.Snippet,
			Reliability: sc.Reliability,
		})
		if err != nil {
			e.logger.Error("persist source failed", "run_id", runID, "error", err)
			continue
		}
		sourceIDs[i] = src.ID
		payload, _ := json.Marshal(src)
		e.emitTask(ctx, runID, taskID, "", event.TypeSourceFound, event.LevelInfo, payload)
	}

	for _, fc := range res.Facts {
		f := artifact.Fact{RunID: runID, Claim: fc.Claim, Confidence: fc.Confidence}
		if fc.SourceIdx >= 0 && fc.SourceIdx < len(sourceIDs) {
			f.SourceID = sourceIDs[fc.SourceIdx]
		}
		stored, err := e.store.AddFact(ctx, f)
		if err != nil {
			e.logger.Error("persist fact failed", "run_id", runID, "error", err)
			continue
		}
		payload, _ := json.Marshal(stored)
		e.emitTask(ctx, runID, taskID, "", event.TypeFactExtracted, event.LevelInfo, payload)
	}

	for _, cc := range res.Conflicts {
		stored, err := e.store.AddConflict(ctx, artifact.Conflict{
			RunID:       runID,
			FactAID:     cc.FactAID,
			FactBID:     cc.FactBID,
			Description: cc.Description,
		})
		if err != nil {
			e.logger.Error("persist conflict failed", "run_id", runID, "error", err)
			continue
		}
		payload, _ := json.Marshal(stored)
		e.emitTask(ctx, runID, taskID, "", event.TypeConflictDetected, event.LevelWarn, payload)
	}

	for _, ac := range res.Artifacts {
		stored, err := e.store.AddArtifact(ctx, artifact.Artifact{
			RunID:   runID,
			TaskID:  taskID,
			Kind:    ac.Kind,
			Title:   ac.Title,
			Content: ac.Content,
			Path:    ac.Path,
		})
		if err != nil {
			e.logger.Error("persist artifact failed", "run_id", runID, "error", err)
			continue
		}
		payload, _ := json.Marshal(stored)
		e.emitTask(ctx, runID, taskID, "", event.TypeArtifactCreated, event.LevelInfo, payload)
	}
}

// emitTask records a task progress event and fans it out to live
// subscribers. Run and approval lifecycle events do not come through here;
// the store appends those in the same transaction as the state change.
func (e *Engine) emitTask(ctx context.Context, runID, taskID, stepID string, typ event.Type, level event.Level, payload json.RawMessage) {
	ev := &event.Event{
		RunID:   runID,
		Type:    typ,
		Level:   level,
		TaskID:  taskID,
		StepID:  stepID,
		Payload: payload,
	}
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Error("append task event failed", "run_id", runID, "type", typ, "error", err)
		return
	}
	e.hub.Publish(ctx, *ev)
}
