package http

import (
	"encoding/json"
	"net/http"

	"github.com/astrahq/astra/internal/domain/approval"
)

type resolveRequest struct {
	Detail    json.RawMessage `json:"detail,omitempty"`
	DecidedBy string          `json:"decided_by,omitempty"`
}

// ListPendingApprovals handles GET /api/v1/approvals/pending.
func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Approvals.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err, "approvals not found")
		return
	}
	if pending == nil {
		pending = []approval.Approval{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// ListRunApprovals handles GET /api/v1/runs/{id}/approvals.
func (h *Handlers) ListRunApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Approvals.ListForRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

// ApproveApproval handles POST /api/v1/approvals/{id}/approve.
func (h *Handlers) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, approval.DecisionApprove)
}

// RejectApproval handles POST /api/v1/approvals/{id}/reject.
func (h *Handlers) RejectApproval(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, approval.DecisionReject)
}

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	var req resolveRequest
	if r.ContentLength > 0 {
		parsed, ok := readJSON[resolveRequest](w, r)
		if !ok {
			return
		}
		req = parsed
	}
	if req.DecidedBy == "" {
		req.DecidedBy = "user"
	}

	resolved, err := h.Approvals.Resolve(r.Context(), urlParam(r, "id"), decision, req.Detail, req.DecidedBy)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
