package http

import (
	"net/http"

	"github.com/astrahq/astra/internal/domain/memory"
	"github.com/astrahq/astra/internal/domain/project"
	"github.com/astrahq/astra/internal/domain/run"
)

// --- Projects ---

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeDomainError(w, err, "projects not found")
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetProject handles GET /api/v1/projects/{id}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	found, err := h.Store.GetProject(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := h.Store.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		writeDomainError(w, err, "project could not be created")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// --- Research side tables ---

// ListSources handles GET /api/v1/runs/{id}/sources.
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.ListSources(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// ListFacts handles GET /api/v1/runs/{id}/facts.
func (h *Handlers) ListFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := h.Store.ListFacts(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

// ListConflicts handles GET /api/v1/runs/{id}/conflicts.
func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.Store.ListConflicts(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// ResolveConflict handles POST /api/v1/runs/{id}/conflicts/{conflictID}/resolve.
// It spawns a follow-up run in the same project, linked to the parent, whose
// job is to settle the contradiction.
func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "id")
	parent, err := h.Engine.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	conflict, err := h.Store.GetConflict(r.Context(), urlParam(r, "conflictID"))
	if err != nil {
		writeDomainError(w, err, "conflict not found")
		return
	}
	if conflict.RunID != runID {
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	}

	sub, err := h.Engine.CreateRun(r.Context(), run.CreateRequest{
		ProjectID:   parent.ProjectID,
		QueryText:   "Resolve conflict: " + conflict.Description,
		Mode:        parent.Mode,
		Purpose:     "conflict_resolution",
		ParentRunID: parent.ID,
	})
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListArtifacts handles GET /api/v1/runs/{id}/artifacts.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.Store.ListArtifacts(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// --- Memories ---

// SaveMemory handles POST /api/v1/memories.
func (h *Handlers) SaveMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[memory.SaveRequest](w, r)
	if !ok {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	saved, err := h.Store.SaveMemory(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "memory could not be saved")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// ListMemories handles GET /api/v1/memories. The q query parameter searches
// content and tags by substring.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListMemories(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err, "memories not found")
		return
	}
	if items == nil {
		items = []memory.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// --- Skills ---

// ListSkills handles GET /api/v1/skills.
func (h *Handlers) ListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.List())
}
