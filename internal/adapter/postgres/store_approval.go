package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/event"
)

const approvalColumns = `id, run_id, task_id, step_id, scope, title, description, proposed_actions, status, decision_detail, decided_by, created_at, decided_at`

func scanApproval(row scannable) (approval.Approval, error) {
	var (
		a         approval.Approval
		stepID    *string
		decidedBy *string
	)
	err := row.Scan(&a.ID, &a.RunID, &a.TaskID, &stepID, &a.Scope, &a.Title,
		&a.Description, &a.ProposedActions, &a.Status, &a.DecisionDetail,
		&decidedBy, &a.CreatedAt, &a.DecidedAt)
	if err != nil {
		return approval.Approval{}, err
	}
	if stepID != nil {
		a.StepID = *stepID
	}
	if decidedBy != nil {
		a.DecidedBy = *decidedBy
	}
	return a, nil
}

// CreateApproval inserts the pending approval and appends ev, if given, in
// the same transaction.
func (s *Store) CreateApproval(ctx context.Context, req approval.Request, ev *event.Event) (*approval.Approval, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create approval: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO approvals (run_id, task_id, step_id, scope, title, description, proposed_actions, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		 RETURNING `+approvalColumns,
		req.RunID, req.TaskID, nullIfEmpty(req.StepID), string(req.Scope),
		req.Title, req.Description, pgTextArray(req.ProposedActions))

	a, err := scanApproval(row)
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	if ev != nil {
		if err := appendApprovalEventTx(ctx, tx, ev, a); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create approval: %w", err)
	}
	return &a, nil
}

// appendApprovalEventTx stamps the event with the approval's references,
// defaults its payload to the stored approval and appends it in tx.
func appendApprovalEventTx(ctx context.Context, tx pgx.Tx, ev *event.Event, a approval.Approval) error {
	ev.RunID = a.RunID
	ev.TaskID = a.TaskID
	ev.StepID = a.StepID
	if len(ev.Payload) == 0 {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal approval %s event payload: %w", a.ID, err)
		}
		ev.Payload = payload
	}
	return appendEventTx(ctx, tx, ev)
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)

	a, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &a, nil
}

func (s *Store) ListApprovals(ctx context.Context, runID string) ([]approval.Approval, error) {
	return s.queryApprovals(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE run_id = $1 ORDER BY created_at`, runID)
}

func (s *Store) ListPendingApprovals(ctx context.Context) ([]approval.Approval, error) {
	return s.queryApprovals(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE status = 'pending' ORDER BY created_at`)
}

func (s *Store) queryApprovals(ctx context.Context, q string, args ...any) ([]approval.Approval, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ResolveApproval performs a compare-and-set on the pending status so that
// exactly one caller wins; concurrent or repeated resolutions get
// ErrConflict (or ErrNotFound if the approval never existed). The decision
// event, if given, commits with the decision or not at all.
func (s *Store) ResolveApproval(ctx context.Context, id string, status approval.Status, detail json.RawMessage, decidedBy string, ev *event.Event) (*approval.Approval, error) {
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin resolve approval: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE approvals SET status = $2, decision_detail = $3, decided_by = $4, decided_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, string(status), detail, nullIfEmpty(decidedBy))

	a, err := scanApproval(row)
	if err == nil {
		if ev != nil {
			if err := appendApprovalEventTx(ctx, tx, ev, a); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit resolve approval %s: %w", id, err)
		}
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve approval %s: %w", id, err)
	}

	current, getErr := s.GetApproval(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("approval %s already %s: %w", id, current.Status, domain.ErrConflict)
}
