package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astrahq/astra/internal/domain/event"
)

// EventLog implements eventlog.Log using an append-only PostgreSQL table.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates an EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

const eventColumns = `id, run_id, seq, type, level, task_id, step_id, payload, created_at`

func scanEvent(row scannable) (event.Event, error) {
	var (
		ev     event.Event
		taskID *string
		stepID *string
	)
	err := row.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Type, &ev.Level,
		&taskID, &stepID, &ev.Payload, &ev.CreatedAt)
	if err != nil {
		return event.Event{}, err
	}
	if taskID != nil {
		ev.TaskID = *taskID
	}
	if stepID != nil {
		ev.StepID = *stepID
	}
	return ev, nil
}

// Append assigns the next per-run sequence number and persists the event
// in its own transaction.
func (l *EventLog) Append(ctx context.Context, ev *event.Event) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := appendEventTx(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}
	return nil
}

// appendEventTx assigns the next per-run sequence number and inserts the
// event inside the caller's transaction, so a state change and its event
// commit or roll back together. A transaction-scoped advisory lock on the
// run serializes concurrent appenders; the UNIQUE (run_id, seq) constraint
// backstops the invariant.
func appendEventTx(ctx context.Context, tx pgx.Tx, ev *event.Event) error {
	if ev.Level == "" {
		ev.Level = event.LevelInfo
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.RunID); err != nil {
		return fmt.Errorf("lock run %s event seq: %w", ev.RunID, err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO run_events (run_id, seq, type, level, task_id, step_id, payload)
		 VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = $1), $2, $3, $4, $5, $6)
		 RETURNING id, seq, created_at`,
		ev.RunID, string(ev.Type), string(ev.Level),
		nullIfEmpty(ev.TaskID), nullIfEmpty(ev.StepID), payloadOrEmpty(ev.Payload))

	if err := row.Scan(&ev.ID, &ev.Seq, &ev.CreatedAt); err != nil {
		return fmt.Errorf("append event %s for run %s: %w", ev.Type, ev.RunID, err)
	}
	return nil
}

func payloadOrEmpty(p []byte) []byte {
	if len(p) == 0 {
		return []byte(`{}`)
	}
	return p
}

// ReadSince returns events with seq > afterSeq in ascending seq order.
func (l *EventLog) ReadSince(ctx context.Context, runID string, afterSeq int64, limit int) ([]event.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq`
	args := []any{runID, afterSeq}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReadTail returns the newest n events in ascending seq order.
func (l *EventLog) ReadTail(ctx context.Context, runID string, n int) ([]event.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := l.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM run_events WHERE run_id = $1 ORDER BY seq DESC LIMIT $2
		 ) tail ORDER BY seq`,
		runID, n)
	if err != nil {
		return nil, fmt.Errorf("read event tail for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
