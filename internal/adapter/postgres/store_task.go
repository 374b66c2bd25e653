package postgres

import (
	"context"
	"fmt"

	"github.com/astrahq/astra/internal/domain/task"
)

const taskColumns = `id, run_id, step_id, attempt, status, error, duration_ms, created_at, started_at, finished_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t      task.Task
		errMsg *string
	)
	err := row.Scan(&t.ID, &t.RunID, &t.StepID, &t.Attempt, &t.Status,
		&errMsg, &t.DurationMS, &t.CreatedAt, &t.StartedAt, &t.FinishedAt)
	if err != nil {
		return task.Task{}, err
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	return t, nil
}

// CreateTask inserts a queued task for the step, assigning the next attempt
// number. The UNIQUE (step_id, attempt) constraint makes concurrent inserts
// for the same step fail instead of producing duplicate attempts.
func (s *Store) CreateTask(ctx context.Context, runID, stepID string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (run_id, step_id, attempt, status)
		 VALUES ($1, $2, (SELECT COALESCE(MAX(attempt), 0) + 1 FROM tasks WHERE step_id = $2), 'queued')
		 RETURNING `+taskColumns,
		runID, stepID)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task for step %s: %w", stepID, err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, runID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE run_id = $1 ORDER BY created_at, attempt`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET
			status = $2,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END
		 WHERE id = $1`,
		id, string(status))
	return execExpectOne(tag, err, "update task %s status", id)
}

// FinishTask records the terminal outcome of a task attempt.
func (s *Store) FinishTask(ctx context.Context, id string, status task.Status, errMsg string, durationMS int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, error = $3, duration_ms = $4, finished_at = now()
		 WHERE id = $1`,
		id, string(status), errMsg, durationMS)
	return execExpectOne(tag, err, "finish task %s", id)
}
