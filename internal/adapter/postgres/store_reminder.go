package postgres

import (
	"context"
	"fmt"

	"github.com/astrahq/astra/internal/domain/reminder"
)

const reminderColumns = `id, run_id, message, at, cron_expr, status, created_at, fired_at`

func scanReminder(row scannable) (reminder.Reminder, error) {
	var (
		r        reminder.Reminder
		runID    *string
		cronExpr *string
	)
	err := row.Scan(&r.ID, &runID, &r.Message, &r.At, &cronExpr, &r.Status, &r.CreatedAt, &r.FiredAt)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if runID != nil {
		r.RunID = *runID
	}
	if cronExpr != nil {
		r.CronExpr = *cronExpr
	}
	return r, nil
}

func (s *Store) CreateReminder(ctx context.Context, req reminder.CreateRequest) (*reminder.Reminder, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO reminders (run_id, message, at, cron_expr, status)
		 VALUES ($1, $2, $3, $4, 'active')
		 RETURNING `+reminderColumns,
		nullIfEmpty(req.RunID), req.Message, req.At, nullIfEmpty(req.CronExpr))

	r, err := scanReminder(row)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return &r, nil
}

func (s *Store) GetReminder(ctx context.Context, id string) (*reminder.Reminder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)

	r, err := scanReminder(row)
	if err != nil {
		return nil, notFoundWrap(err, "get reminder %s", id)
	}
	return &r, nil
}

func (s *Store) ListReminders(ctx context.Context, status reminder.Status) ([]reminder.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		q = `SELECT ` + reminderColumns + ` FROM reminders WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, string(status))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Store) UpdateReminderStatus(ctx context.Context, id string, status reminder.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminders SET
			status = $2,
			fired_at = CASE WHEN $2 = 'fired' THEN now() ELSE fired_at END
		 WHERE id = $1`,
		id, string(status))
	return execExpectOne(tag, err, "update reminder %s status", id)
}
