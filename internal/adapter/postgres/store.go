package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/project"
	"github.com/astrahq/astra/internal/domain/run"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		var p project.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE id = $1`, id)

	var p project.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) GetProjectByName(ctx context.Context, name string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE name = $1`, name)

	var p project.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get project %q", name)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, name, description string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description) VALUES ($1, $2)
		 RETURNING id, name, description, created_at`, name, description)

	var p project.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

// --- Runs ---

const runColumns = `id, project_id, query_text, mode, status, purpose, parent_run_id, error, meta, created_at, started_at, finished_at`

func scanRun(row scannable) (run.Run, error) {
	var (
		r           run.Run
		purpose     *string
		parentRunID *string
		errMsg      *string
		meta        []byte
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.QueryText, &r.Mode, &r.Status,
		&purpose, &parentRunID, &errMsg, &meta, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return run.Run{}, err
	}
	if purpose != nil {
		r.Purpose = *purpose
	}
	if parentRunID != nil {
		r.ParentRunID = *parentRunID
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &r.Meta)
	}
	return r, nil
}

// CreateRun inserts the run and appends ev, if given, in one transaction.
// The run only exists once its run_created event is durable.
func (s *Store) CreateRun(ctx context.Context, req run.CreateRequest, ev *event.Event) (*run.Run, error) {
	meta := json.RawMessage(`{}`)
	if req.Meta != nil {
		b, err := json.Marshal(req.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal run meta: %w", err)
		}
		meta = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO runs (project_id, query_text, mode, status, purpose, parent_run_id, meta)
		 VALUES ($1, $2, $3, 'created', $4, $5, $6)
		 RETURNING `+runColumns,
		req.ProjectID, req.QueryText, string(req.Mode), req.Purpose,
		nullIfEmpty(req.ParentRunID), meta)

	r, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if ev != nil {
		ev.RunID = r.ID
		if err := appendEventTx(ctx, tx, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create run: %w", err)
	}
	return &r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, projectID string, limit int) ([]run.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if projectID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+runColumns+` FROM runs WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
			projectID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TransitionRun performs a compare-and-set status change: the UPDATE only
// matches when the current status is a valid source for the target. Losing
// writers get ErrTerminal or ErrConflict depending on the run's actual state.
// The accompanying event, if given, commits in the same transaction; if it
// cannot be appended the status change rolls back with it.
func (s *Store) TransitionRun(ctx context.Context, id string, to run.Status, errMsg string, ev *event.Event) (*run.Run, error) {
	allowed := run.AllowedFrom(to)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: no transition leads to status %q", domain.ErrValidation, to)
	}
	from := make([]string, len(allowed))
	for i, st := range allowed {
		from[i] = string(st)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE runs SET
			status = $2,
			error = CASE WHEN $3 <> '' THEN $3 ELSE error END,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('done', 'failed', 'canceled') AND finished_at IS NULL THEN now() ELSE finished_at END
		 WHERE id = $1 AND status = ANY($4)
		 RETURNING `+runColumns,
		id, string(to), errMsg, from)

	r, err := scanRun(row)
	if err == nil {
		if ev != nil {
			ev.RunID = id
			if err := appendEventTx(ctx, tx, ev); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transition run %s: %w", id, err)
		}
		return &r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition run %s to %s: %w", id, to, err)
	}

	// No row matched: distinguish missing, terminal and plain conflict.
	current, getErr := s.GetRun(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is %s: %w", id, current.Status, domain.ErrTerminal)
	}
	return nil, fmt.Errorf("run %s is %s, cannot move to %s: %w", id, current.Status, to, domain.ErrConflict)
}
