// Package reminder defines scheduled reminders created by runs or directly
// by the user. A reminder fires either once at a fixed time or repeatedly on
// a cron expression.
package reminder

import "time"

// Status represents the lifecycle state of a reminder.
type Status string

const (
	StatusActive   Status = "active"
	StatusFired    Status = "fired"
	StatusCanceled Status = "canceled"
)

// Reminder is a scheduled notification. Exactly one of At or CronExpr is
// set: At for one-shot reminders, CronExpr for recurring ones.
type Reminder struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id,omitempty"`
	Message   string     `json:"message"`
	At        *time.Time `json:"at,omitempty"`
	CronExpr  string     `json:"cron_expr,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`
}

// CreateRequest holds the fields needed to schedule a reminder.
type CreateRequest struct {
	RunID    string     `json:"run_id,omitempty"`
	Message  string     `json:"message"`
	At       *time.Time `json:"at,omitempty"`
	CronExpr string     `json:"cron_expr,omitempty"`
}
