package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/astrahq/astra/internal/config"
	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/domain/task"
	"github.com/astrahq/astra/internal/port/cache"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/eventlog"
)

// Snapshot is the materialized view of one run: everything a client needs to
// render it without replaying the event log.
type Snapshot struct {
	Run       *run.Run            `json:"run"`
	Steps     []plan.Step         `json:"steps"`
	Tasks     []task.Task         `json:"tasks"`
	Approvals []approval.Approval `json:"approvals"`
	Sources   []artifact.Source   `json:"sources"`
	Facts     []artifact.Fact     `json:"facts"`
	Conflicts []artifact.Conflict `json:"conflicts"`
	Artifacts []artifact.Artifact `json:"artifacts"`
	Events    []event.Event       `json:"events"`
	Metrics   SnapshotMetrics     `json:"metrics"`
}

// SnapshotMetrics summarizes run progress and research quality.
type SnapshotMetrics struct {
	StepsTotal    int        `json:"steps_total"`
	StepsDone     int        `json:"steps_done"`
	StepsRunning  int        `json:"steps_running"`
	Coverage      float64    `json:"coverage"`
	OpenConflicts int        `json:"open_conflicts"`
	SourceCount   int        `json:"source_count"`
	FactCount     int        `json:"fact_count"`
	OldestSource  *time.Time `json:"oldest_source,omitempty"`
	NewestSource  *time.Time `json:"newest_source,omitempty"`
}

// SnapshotService assembles run snapshots. Terminal runs never change, so
// their snapshots are cached; live runs are assembled fresh on every call.
type SnapshotService struct {
	store  database.Store
	events eventlog.Log
	cache  cache.Cache
	cfg    config.Snapshot
	logger *slog.Logger
}

// NewSnapshotService wires the snapshot builder.
func NewSnapshotService(store database.Store, events eventlog.Log, c cache.Cache, cfg config.Snapshot, logger *slog.Logger) *SnapshotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotService{store: store, events: events, cache: c, cfg: cfg, logger: logger}
}

func snapshotKey(runID string) string { return "snapshot:" + runID }

// Build returns the snapshot for a run, serving terminal runs from cache
// when possible.
func (s *SnapshotService) Build(ctx context.Context, runID string) (*Snapshot, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, snapshotKey(runID)); err == nil && ok {
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				return &snap, nil
			}
		}
	}

	snap, err := s.assemble(ctx, runID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && snap.Run.Status.IsTerminal() {
		if data, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, snapshotKey(runID), data, s.cfg.CacheTTL); err != nil {
				s.logger.Warn("cache snapshot failed", "run_id", runID, "error", err)
			}
		}
	}
	return snap, nil
}

// Invalidate drops a cached snapshot, e.g. after a terminal run's side
// tables were amended.
func (s *SnapshotService) Invalidate(ctx context.Context, runID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, snapshotKey(runID))
	}
}

func (s *SnapshotService) assemble(ctx context.Context, runID string) (*Snapshot, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, runID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, runID)
	if err != nil {
		return nil, err
	}
	sources, err := s.store.ListSources(ctx, runID)
	if err != nil {
		return nil, err
	}
	facts, err := s.store.ListFacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.store.ListConflicts(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}

	tail := s.cfg.EventTail
	if tail <= 0 {
		tail = 50
	}
	events, err := s.events.ReadTail(ctx, runID, tail)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Run:       r,
		Steps:     steps,
		Tasks:     tasks,
		Approvals: approvals,
		Sources:   sources,
		Facts:     facts,
		Conflicts: conflicts,
		Artifacts: artifacts,
		Events:    events,
		Metrics:   computeMetrics(steps, sources, facts, conflicts),
	}, nil
}

func computeMetrics(steps []plan.Step, sources []artifact.Source, facts []artifact.Fact, conflicts []artifact.Conflict) SnapshotMetrics {
	m := SnapshotMetrics{
		StepsTotal:    len(steps),
		StepsRunning:  plan.RunningCount(steps),
		OpenConflicts: len(conflicts),
		SourceCount:   len(sources),
		FactCount:     len(facts),
	}
	for _, st := range steps {
		if st.Status == plan.StepStatusDone {
			m.StepsDone++
		}
	}
	if m.StepsTotal > 0 {
		m.Coverage = float64(m.StepsDone) / float64(m.StepsTotal)
	}
	for i := range sources {
		t := sources[i].FetchedAt
		if t.IsZero() {
			continue
		}
		if m.OldestSource == nil || t.Before(*m.OldestSource) {
			ts := t
			m.OldestSource = &ts
		}
		if m.NewestSource == nil || t.After(*m.NewestSource) {
			ts := t
			m.NewestSource = &ts
		}
	}
	return m
}
