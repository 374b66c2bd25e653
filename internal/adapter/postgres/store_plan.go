package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/astrahq/astra/internal/domain/plan"
)

const stepColumns = `id, run_id, idx, title, skill_name, inputs, depends_on, danger_flags, requires_approval, status, created_at, updated_at`

func scanStep(row scannable) (plan.Step, error) {
	var st plan.Step
	err := row.Scan(&st.ID, &st.RunID, &st.Index, &st.Title, &st.SkillName,
		&st.Inputs, &st.DependsOn, &st.DangerFlags, &st.RequiresApproval,
		&st.Status, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// CreatePlan inserts all steps of an accepted plan in one transaction.
// Step IDs are generated up front so the positional depends_on references
// in the specs can be remapped to real IDs before insert.
func (s *Store) CreatePlan(ctx context.Context, runID string, specs []plan.StepSpec) ([]plan.Step, error) {
	ids := make([]string, len(specs))
	for i := range specs {
		ids[i] = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create plan: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	steps := make([]plan.Step, 0, len(specs))
	for i, spec := range specs {
		dependsOn := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			n, convErr := strconv.Atoi(dep)
			if convErr != nil || n < 0 || n >= len(ids) {
				return nil, fmt.Errorf("create plan: step %d has unresolvable dependency %q", i, dep)
			}
			dependsOn = append(dependsOn, ids[n])
		}

		inputs := spec.Inputs
		if len(inputs) == 0 {
			inputs = []byte(`{}`)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO plan_steps (id, run_id, idx, title, skill_name, inputs, depends_on, danger_flags, requires_approval, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'created')
			 RETURNING `+stepColumns,
			ids[i], runID, i, spec.Title, spec.SkillName, inputs,
			dependsOn, pgTextArray(spec.DangerFlags), spec.RequiresApproval)

		st, scanErr := scanStep(row)
		if scanErr != nil {
			return nil, fmt.Errorf("create plan step %d: %w", i, scanErr)
		}
		steps = append(steps, st)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create plan: %w", err)
	}
	return steps, nil
}

func (s *Store) ListSteps(ctx context.Context, runID string) ([]plan.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM plan_steps WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []plan.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) GetStep(ctx context.Context, id string) (*plan.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM plan_steps WHERE id = $1`, id)

	st, err := scanStep(row)
	if err != nil {
		return nil, notFoundWrap(err, "get step %s", id)
	}
	return &st, nil
}

func (s *Store) UpdateStepStatus(ctx context.Context, id string, status plan.StepStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_steps SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update step %s status", id)
}
