package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/memory"
	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/project"
	"github.com/astrahq/astra/internal/domain/reminder"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/domain/task"
	"github.com/astrahq/astra/internal/port/skill"
)

// memStore is an in-memory database.Store with the same compare-and-set
// semantics as the postgres adapter. Like the postgres store it appends
// lifecycle events through its log before the state change takes effect,
// so a failing log aborts the write.
type memStore struct {
	mu        sync.Mutex
	log       *memLog
	seq       int
	projects  map[string]project.Project
	runs      map[string]*run.Run
	steps     map[string]*plan.Step
	tasks     map[string]*task.Task
	approvals map[string]*approval.Approval
	sources   map[string][]artifact.Source
	facts     map[string][]artifact.Fact
	conflicts map[string][]artifact.Conflict
	artifacts map[string][]artifact.Artifact
	reminders map[string]*reminder.Reminder
	memories  []memory.Item
}

func newMemStore() *memStore {
	s := &memStore{
		projects:  make(map[string]project.Project),
		runs:      make(map[string]*run.Run),
		steps:     make(map[string]*plan.Step),
		tasks:     make(map[string]*task.Task),
		approvals: make(map[string]*approval.Approval),
		sources:   make(map[string][]artifact.Source),
		facts:     make(map[string][]artifact.Fact),
		conflicts: make(map[string][]artifact.Conflict),
		artifacts: make(map[string][]artifact.Artifact),
		reminders: make(map[string]*reminder.Reminder),
	}
	s.projects["proj-default"] = project.Project{ID: "proj-default", Name: project.DefaultName, CreatedAt: time.Now()}
	return s
}

// nextID must be called with mu held.
func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) ListProjects(context.Context) ([]project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]project.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
}

func (s *memStore) GetProjectByName(_ context.Context, name string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", name, domain.ErrNotFound)
}

func (s *memStore) CreateProject(_ context.Context, name, description string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := project.Project{ID: s.nextID("proj"), Name: name, Description: description, CreatedAt: time.Now()}
	s.projects[p.ID] = p
	return &p, nil
}

func (s *memStore) CreateRun(ctx context.Context, req run.CreateRequest, ev *event.Event) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &run.Run{
		ID:          s.nextID("run"),
		ProjectID:   req.ProjectID,
		QueryText:   req.QueryText,
		Mode:        req.Mode,
		Status:      run.StatusCreated,
		Purpose:     req.Purpose,
		ParentRunID: req.ParentRunID,
		Meta:        req.Meta,
		CreatedAt:   time.Now(),
	}
	if ev != nil {
		ev.RunID = r.ID
		if err := s.log.Append(ctx, ev); err != nil {
			return nil, err
		}
	}
	s.runs[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *memStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListRuns(_ context.Context, projectID string, limit int) ([]run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []run.Run
	for _, r := range s.runs {
		if projectID == "" || r.ProjectID == projectID {
			out = append(out, *r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) TransitionRun(ctx context.Context, id string, to run.Status, errMsg string, ev *event.Event) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if !run.CanTransition(r.Status, to) {
		if r.Status.IsTerminal() {
			return nil, fmt.Errorf("run %s is %s: %w", id, r.Status, domain.ErrTerminal)
		}
		return nil, fmt.Errorf("run %s is %s, cannot move to %s: %w", id, r.Status, to, domain.ErrConflict)
	}
	if ev != nil {
		ev.RunID = id
		if err := s.log.Append(ctx, ev); err != nil {
			return nil, err
		}
	}
	r.Status = to
	if errMsg != "" {
		r.Error = errMsg
	}
	now := time.Now()
	if to == run.StatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if to.IsTerminal() && r.FinishedAt == nil {
		r.FinishedAt = &now
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) CreatePlan(_ context.Context, runID string, specs []plan.StepSpec) ([]plan.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(specs))
	for i := range specs {
		ids[i] = s.nextID("step")
	}
	out := make([]plan.Step, len(specs))
	for i, spec := range specs {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, d := range spec.DependsOn {
			var idx int
			fmt.Sscanf(d, "%d", &idx)
			deps = append(deps, ids[idx])
		}
		st := &plan.Step{
			ID:               ids[i],
			RunID:            runID,
			Index:            i,
			Title:            spec.Title,
			SkillName:        spec.SkillName,
			Inputs:           spec.Inputs,
			DependsOn:        deps,
			DangerFlags:      spec.DangerFlags,
			RequiresApproval: spec.RequiresApproval,
			Status:           plan.StepStatusCreated,
			CreatedAt:        time.Now(),
		}
		s.steps[st.ID] = st
		out[i] = *st
	}
	return out, nil
}

func (s *memStore) ListSteps(_ context.Context, runID string) ([]plan.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []plan.Step
	for i := 0; i <= s.seq; i++ {
		id := fmt.Sprintf("step-%d", i)
		if st, ok := s.steps[id]; ok && st.RunID == runID {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *memStore) GetStep(_ context.Context, id string) (*plan.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %s: %w", id, domain.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) UpdateStepStatus(_ context.Context, id string, status plan.StepStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return fmt.Errorf("step %s: %w", id, domain.ErrNotFound)
	}
	st.Status = status
	st.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) CreateTask(_ context.Context, runID, stepID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := 0
	for _, t := range s.tasks {
		if t.StepID == stepID && t.Attempt > attempt {
			attempt = t.Attempt
		}
	}
	t := &task.Task{
		ID:        s.nextID("task"),
		RunID:     runID,
		StepID:    stepID,
		Attempt:   attempt + 1,
		Status:    task.StatusQueued,
		CreatedAt: time.Now(),
	}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *memStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTasks(_ context.Context, runID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for i := 0; i <= s.seq; i++ {
		id := fmt.Sprintf("task-%d", i)
		if t, ok := s.tasks[id]; ok && t.RunID == runID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	if status == task.StatusRunning && t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
	return nil
}

func (s *memStore) FinishTask(_ context.Context, id string, status task.Status, errMsg string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	now := time.Now()
	t.Status = status
	t.Error = errMsg
	t.DurationMS = durationMS
	t.FinishedAt = &now
	return nil
}

func (s *memStore) CreateApproval(ctx context.Context, req approval.Request, ev *event.Event) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &approval.Approval{
		ID:              s.nextID("appr"),
		RunID:           req.RunID,
		TaskID:          req.TaskID,
		StepID:          req.StepID,
		Scope:           req.Scope,
		Title:           req.Title,
		Description:     req.Description,
		ProposedActions: req.ProposedActions,
		Status:          approval.StatusPending,
		CreatedAt:       time.Now(),
	}
	if ev != nil {
		if err := s.appendApprovalEvent(ctx, ev, *a); err != nil {
			return nil, err
		}
	}
	s.approvals[a.ID] = a
	cp := *a
	return &cp, nil
}

// appendApprovalEvent must be called with mu held.
func (s *memStore) appendApprovalEvent(ctx context.Context, ev *event.Event, a approval.Approval) error {
	ev.RunID = a.RunID
	ev.TaskID = a.TaskID
	ev.StepID = a.StepID
	if len(ev.Payload) == 0 {
		payload, err := json.Marshal(a)
		if err != nil {
			return err
		}
		ev.Payload = payload
	}
	return s.log.Append(ctx, ev)
}

func (s *memStore) GetApproval(_ context.Context, id string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) ListApprovals(_ context.Context, runID string) ([]approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.RunID == runID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) ListPendingApprovals(context.Context) ([]approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.Status == approval.StatusPending {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) ResolveApproval(ctx context.Context, id string, status approval.Status, detail json.RawMessage, decidedBy string, ev *event.Event) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	if a.Status != approval.StatusPending {
		return nil, fmt.Errorf("approval %s already %s: %w", id, a.Status, domain.ErrConflict)
	}
	now := time.Now()
	upd := *a
	upd.Status = status
	upd.DecisionDetail = detail
	upd.DecidedBy = decidedBy
	upd.DecidedAt = &now
	if ev != nil {
		if err := s.appendApprovalEvent(ctx, ev, upd); err != nil {
			return nil, err
		}
	}
	*a = upd
	cp := upd
	return &cp, nil
}

func (s *memStore) AddSource(_ context.Context, src artifact.Source) (*artifact.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src.ID = s.nextID("src")
	src.FetchedAt = time.Now()
	s.sources[src.RunID] = append(s.sources[src.RunID], src)
	return &src, nil
}

func (s *memStore) ListSources(_ context.Context, runID string) ([]artifact.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Source(nil), s.sources[runID]...), nil
}

func (s *memStore) AddFact(_ context.Context, f artifact.Fact) (*artifact.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.nextID("fact")
	f.CreatedAt = time.Now()
	s.facts[f.RunID] = append(s.facts[f.RunID], f)
	return &f, nil
}

func (s *memStore) ListFacts(_ context.Context, runID string) ([]artifact.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Fact(nil), s.facts[runID]...), nil
}

func (s *memStore) AddConflict(_ context.Context, c artifact.Conflict) (*artifact.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID("conf")
	c.CreatedAt = time.Now()
	s.conflicts[c.RunID] = append(s.conflicts[c.RunID], c)
	return &c, nil
}

func (s *memStore) GetConflict(_ context.Context, id string) (*artifact.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, group := range s.conflicts {
		for _, c := range group {
			if c.ID == id {
				out := c
				return &out, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ListConflicts(_ context.Context, runID string) ([]artifact.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Conflict(nil), s.conflicts[runID]...), nil
}

func (s *memStore) AddArtifact(_ context.Context, a artifact.Artifact) (*artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID("art")
	a.CreatedAt = time.Now()
	s.artifacts[a.RunID] = append(s.artifacts[a.RunID], a)
	return &a, nil
}

func (s *memStore) ListArtifacts(_ context.Context, runID string) ([]artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Artifact(nil), s.artifacts[runID]...), nil
}

func (s *memStore) CreateReminder(_ context.Context, req reminder.CreateRequest) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &reminder.Reminder{
		ID:        s.nextID("rem"),
		RunID:     req.RunID,
		Message:   req.Message,
		At:        req.At,
		CronExpr:  req.CronExpr,
		Status:    reminder.StatusActive,
		CreatedAt: time.Now(),
	}
	s.reminders[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *memStore) GetReminder(_ context.Context, id string) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListReminders(_ context.Context, status reminder.Status) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range s.reminders {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) UpdateReminderStatus(_ context.Context, id string, status reminder.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	r.Status = status
	if status == reminder.StatusFired {
		now := time.Now()
		r.FiredAt = &now
	}
	return nil
}

func (s *memStore) SaveMemory(_ context.Context, req memory.SaveRequest) (*memory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := memory.Item{ID: s.nextID("mem"), RunID: req.RunID, Content: req.Content, Tags: req.Tags, CreatedAt: time.Now()}
	s.memories = append(s.memories, item)
	return &item, nil
}

func (s *memStore) ListMemories(_ context.Context, query string, limit int) ([]memory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]memory.Item(nil), s.memories...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memLog is an in-memory eventlog.Log assigning contiguous per-run sequence
// numbers. failWith makes every Append fail until cleared.
type memLog struct {
	mu      sync.Mutex
	events  map[string][]event.Event
	nextID  int
	failErr error
}

func newMemLog() *memLog {
	return &memLog{events: make(map[string][]event.Event)}
}

func (l *memLog) failWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *memLog) Append(_ context.Context, ev *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.nextID++
	ev.ID = fmt.Sprintf("ev-%d", l.nextID)
	ev.Seq = int64(len(l.events[ev.RunID]) + 1)
	ev.CreatedAt = time.Now()
	if ev.Level == "" {
		ev.Level = event.LevelInfo
	}
	l.events[ev.RunID] = append(l.events[ev.RunID], *ev)
	return nil
}

func (l *memLog) ReadSince(_ context.Context, runID string, afterSeq int64, limit int) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, ev := range l.events[runID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (l *memLog) ReadTail(_ context.Context, runID string, n int) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := l.events[runID]
	if n > 0 && len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	return append([]event.Event(nil), evs...), nil
}

func (l *memLog) all(runID string) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event.Event(nil), l.events[runID]...)
}

// memHub records published events.
type memHub struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *memHub) Publish(_ context.Context, ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *memHub) published() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.Event(nil), h.events...)
}

// memCache is an in-memory cache.Cache recording writes.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// stubSkill is a configurable skill for engine tests.
type stubSkill struct {
	manifest skill.Manifest
	execute  func(ctx context.Context, inv skill.Invocation) (*skill.Result, error)
}

func (s *stubSkill) Manifest() skill.Manifest { return s.manifest }

func (s *stubSkill) Execute(ctx context.Context, inv skill.Invocation) (*skill.Result, error) {
	if s.execute == nil {
		return &skill.Result{Summary: "ok"}, nil
	}
	return s.execute(ctx, inv)
}
