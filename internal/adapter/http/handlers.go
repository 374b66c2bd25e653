package http

import (
	"encoding/json"
	"net/http"

	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/eventlog"
	"github.com/astrahq/astra/internal/port/skill"
	"github.com/astrahq/astra/internal/service"
)

const maxQueryLength = 4000

// Handlers bundles the services the REST API exposes.
type Handlers struct {
	Engine    *service.Engine
	Approvals *service.ApprovalService
	Snapshots *service.SnapshotService
	Reminders *service.ReminderService
	Store     database.Store
	Events    eventlog.Log
	Registry  *skill.Registry
}

// --- Runs ---

// CreateRun handles POST /api/v1/runs.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}
	if len(req.QueryText) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query_text too long")
		return
	}

	created, err := h.Engine.CreateRun(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	found, err := h.Engine.GetRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// ListRuns handles GET /api/v1/runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.ListRuns(r.Context(), r.URL.Query().Get("project_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, err, "runs not found")
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// AcceptPlan handles POST /api/v1/runs/{id}/plan.
func (h *Handlers) AcceptPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Steps []plan.StepSpec `json:"steps"`
	}](w, r)
	if !ok {
		return
	}

	steps, err := h.Engine.AcceptPlan(r.Context(), urlParam(r, "id"), req.Steps)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, steps)
}

// StartRun handles POST /api/v1/runs/{id}/start.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	started, err := h.Engine.Start(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, started)
}

// PauseRun handles POST /api/v1/runs/{id}/pause.
func (h *Handlers) PauseRun(w http.ResponseWriter, r *http.Request) {
	paused, err := h.Engine.Pause(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, paused)
}

// ResumeRun handles POST /api/v1/runs/{id}/resume.
func (h *Handlers) ResumeRun(w http.ResponseWriter, r *http.Request) {
	resumed, err := h.Engine.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, resumed)
}

// CancelRun handles POST /api/v1/runs/{id}/cancel.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	var reason string
	if r.ContentLength > 0 {
		req, ok := readJSON[struct {
			Reason string `json:"reason"`
		}](w, r)
		if !ok {
			return
		}
		reason = req.Reason
	}

	canceled, err := h.Engine.Cancel(r.Context(), urlParam(r, "id"), reason)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, canceled)
}

// RetryStep handles POST /api/v1/runs/{id}/steps/{stepID}/retry.
func (h *Handlers) RetryStep(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.RetryStep(r.Context(), urlParam(r, "id"), urlParam(r, "stepID")); err != nil {
		writeDomainError(w, err, "run or step not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

// RetryTask handles POST /api/v1/runs/{id}/tasks/{taskID}/retry. A task is
// one attempt of a step, so retrying it requeues the owning step.
func (h *Handlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "id")
	t, err := h.Store.GetTask(r.Context(), urlParam(r, "taskID"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if t.RunID != runID {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := h.Engine.RetryStep(r.Context(), runID, t.StepID); err != nil {
		writeDomainError(w, err, "run or step not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

// ListSteps handles GET /api/v1/runs/{id}/steps.
func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.Store.ListSteps(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	if steps == nil {
		steps = []plan.Step{}
	}
	writeJSON(w, http.StatusOK, steps)
}

// ListTasks handles GET /api/v1/runs/{id}/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetSnapshot handles GET /api/v1/runs/{id}/snapshot.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Build(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListRunEvents handles GET /api/v1/runs/{id}/events. after_seq paginates;
// the response is ordered by seq ascending. format=ndjson streams one event
// per line for log downloads.
func (h *Handlers) ListRunEvents(w http.ResponseWriter, r *http.Request) {
	afterSeq := int64(queryInt(r, "after_seq", 0))
	limit := queryInt(r, "limit", 200)

	events, err := h.Events.ReadSince(r.Context(), urlParam(r, "id"), afterSeq, limit)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}

	if r.URL.Query().Get("format") == "ndjson" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
		return
	}
	writeJSON(w, http.StatusOK, events)
}
