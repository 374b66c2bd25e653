package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)

		// Runs
		r.Post("/runs", h.CreateRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Post("/runs/{id}/plan", h.AcceptPlan)
		r.Post("/runs/{id}/start", h.StartRun)
		r.Post("/runs/{id}/pause", h.PauseRun)
		r.Post("/runs/{id}/resume", h.ResumeRun)
		r.Post("/runs/{id}/cancel", h.CancelRun)
		r.Get("/runs/{id}/snapshot", h.GetSnapshot)
		r.Get("/runs/{id}/events", h.ListRunEvents)

		// Plan steps and tasks. The plan view is the ordered step list.
		r.Get("/runs/{id}/steps", h.ListSteps)
		r.Get("/runs/{id}/plan", h.ListSteps)
		r.Post("/runs/{id}/steps/{stepID}/retry", h.RetryStep)
		r.Get("/runs/{id}/tasks", h.ListTasks)
		r.Post("/runs/{id}/tasks/{taskID}/retry", h.RetryTask)

		// Research side tables
		r.Get("/runs/{id}/sources", h.ListSources)
		r.Get("/runs/{id}/facts", h.ListFacts)
		r.Get("/runs/{id}/conflicts", h.ListConflicts)
		r.Post("/runs/{id}/conflicts/{conflictID}/resolve", h.ResolveConflict)
		r.Get("/runs/{id}/artifacts", h.ListArtifacts)

		// Approvals
		r.Get("/approvals/pending", h.ListPendingApprovals)
		r.Get("/runs/{id}/approvals", h.ListRunApprovals)
		r.Post("/approvals/{id}/approve", h.ApproveApproval)
		r.Post("/approvals/{id}/reject", h.RejectApproval)

		// Reminders
		r.Post("/reminders", h.CreateReminder)
		r.Get("/reminders", h.ListReminders)
		r.Get("/reminders/{id}", h.GetReminder)
		r.Post("/reminders/{id}/cancel", h.CancelReminder)

		// Memories
		r.Post("/memories", h.SaveMemory)
		r.Get("/memories", h.ListMemories)

		// Skills
		r.Get("/skills", h.ListSkills)
	})
}
