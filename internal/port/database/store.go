// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"

	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/artifact"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/memory"
	"github.com/astrahq/astra/internal/domain/plan"
	"github.com/astrahq/astra/internal/domain/project"
	"github.com/astrahq/astra/internal/domain/reminder"
	"github.com/astrahq/astra/internal/domain/run"
	"github.com/astrahq/astra/internal/domain/task"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	GetProjectByName(ctx context.Context, name string) (*project.Project, error)
	CreateProject(ctx context.Context, name, description string) (*project.Project, error)

	// Runs. CreateRun persists the run and, when ev is non-nil, appends ev
	// to the new run's event log in the same transaction, filling ev.RunID;
	// neither write survives without the other.
	CreateRun(ctx context.Context, req run.CreateRequest, ev *event.Event) (*run.Run, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	ListRuns(ctx context.Context, projectID string, limit int) ([]run.Run, error)

	// TransitionRun atomically moves a run to the target status, guarded by
	// the allowed source statuses for that target. Returns ErrTerminal if
	// the run already reached a final state, ErrConflict if the current
	// status does not permit the transition, ErrNotFound if the run does
	// not exist. errMsg is recorded only for the failed status. When ev is
	// non-nil it is appended in the same transaction, so the status change
	// commits only together with its log entry.
	TransitionRun(ctx context.Context, id string, to run.Status, errMsg string, ev *event.Event) (*run.Run, error)

	// Plan steps
	CreatePlan(ctx context.Context, runID string, specs []plan.StepSpec) ([]plan.Step, error)
	ListSteps(ctx context.Context, runID string) ([]plan.Step, error)
	GetStep(ctx context.Context, id string) (*plan.Step, error)
	UpdateStepStatus(ctx context.Context, id string, status plan.StepStatus) error

	// Tasks. CreateTask assigns the next attempt number for the step.
	CreateTask(ctx context.Context, runID, stepID string) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, runID string) ([]task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
	FinishTask(ctx context.Context, id string, status task.Status, errMsg string, durationMS int64) error

	// Approvals. ResolveApproval succeeds at most once per approval:
	// a second resolution returns ErrConflict. Both CreateApproval and
	// ResolveApproval append a non-nil ev in the same transaction as the
	// approval write, filling ev's run, task and step references; an empty
	// ev payload is filled with the stored approval.
	CreateApproval(ctx context.Context, req approval.Request, ev *event.Event) (*approval.Approval, error)
	GetApproval(ctx context.Context, id string) (*approval.Approval, error)
	ListApprovals(ctx context.Context, runID string) ([]approval.Approval, error)
	ListPendingApprovals(ctx context.Context) ([]approval.Approval, error)
	ResolveApproval(ctx context.Context, id string, status approval.Status, detail json.RawMessage, decidedBy string, ev *event.Event) (*approval.Approval, error)

	// Research side tables
	AddSource(ctx context.Context, src artifact.Source) (*artifact.Source, error)
	ListSources(ctx context.Context, runID string) ([]artifact.Source, error)
	AddFact(ctx context.Context, f artifact.Fact) (*artifact.Fact, error)
	ListFacts(ctx context.Context, runID string) ([]artifact.Fact, error)
	AddConflict(ctx context.Context, c artifact.Conflict) (*artifact.Conflict, error)
	GetConflict(ctx context.Context, id string) (*artifact.Conflict, error)
	ListConflicts(ctx context.Context, runID string) ([]artifact.Conflict, error)
	AddArtifact(ctx context.Context, a artifact.Artifact) (*artifact.Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]artifact.Artifact, error)

	// Reminders
	CreateReminder(ctx context.Context, req reminder.CreateRequest) (*reminder.Reminder, error)
	GetReminder(ctx context.Context, id string) (*reminder.Reminder, error)
	ListReminders(ctx context.Context, status reminder.Status) ([]reminder.Reminder, error)
	UpdateReminderStatus(ctx context.Context, id string, status reminder.Status) error

	// Memory
	SaveMemory(ctx context.Context, req memory.SaveRequest) (*memory.Item, error)
	ListMemories(ctx context.Context, query string, limit int) ([]memory.Item, error)
}
