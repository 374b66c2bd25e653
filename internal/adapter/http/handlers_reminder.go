package http

import (
	"net/http"

	"github.com/astrahq/astra/internal/domain/reminder"
)

// CreateReminder handles POST /api/v1/reminders.
func (h *Handlers) CreateReminder(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reminder.CreateRequest](w, r)
	if !ok {
		return
	}

	created, err := h.Reminders.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "reminder could not be created")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListReminders handles GET /api/v1/reminders. The status query parameter
// filters; empty returns all.
func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	status := reminder.Status(r.URL.Query().Get("status"))

	reminders, err := h.Reminders.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, err, "reminders not found")
		return
	}
	if reminders == nil {
		reminders = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// GetReminder handles GET /api/v1/reminders/{id}.
func (h *Handlers) GetReminder(w http.ResponseWriter, r *http.Request) {
	found, err := h.Reminders.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "reminder not found")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// CancelReminder handles POST /api/v1/reminders/{id}/cancel.
func (h *Handlers) CancelReminder(w http.ResponseWriter, r *http.Request) {
	if err := h.Reminders.Cancel(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "reminder not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
