package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/domain/reminder"
	"github.com/astrahq/astra/internal/port/broadcast"
	"github.com/astrahq/astra/internal/port/database"
	"github.com/astrahq/astra/internal/port/eventlog"
	"github.com/astrahq/astra/internal/port/messagequeue"
)

// ReminderService schedules reminders and fires them onto the message queue.
// One-shot reminders use a timer; recurring ones run on a cron schedule.
// It satisfies the scheduler the reminder-create skill needs.
type ReminderService struct {
	store  database.Store
	events eventlog.Log
	hub    broadcast.Broadcaster
	queue  messagequeue.Queue
	logger *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	timers  map[string]*time.Timer
	entries map[string]cron.EntryID
}

// NewReminderService wires the reminder scheduler.
func NewReminderService(store database.Store, events eventlog.Log, hub broadcast.Broadcaster, queue messagequeue.Queue, logger *slog.Logger) *ReminderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderService{
		store:   store,
		events:  events,
		hub:     hub,
		queue:   queue,
		logger:  logger,
		cron:    cron.New(),
		timers:  make(map[string]*time.Timer),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads active reminders from the store, schedules them and starts the
// cron runner. Called once at startup.
func (s *ReminderService) Start(ctx context.Context) error {
	active, err := s.store.ListReminders(ctx, reminder.StatusActive)
	if err != nil {
		return fmt.Errorf("load active reminders: %w", err)
	}
	for i := range active {
		if err := s.Schedule(active[i]); err != nil {
			s.logger.Warn("skipping unschedulable reminder", "reminder_id", active[i].ID, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "active", len(active))
	return nil
}

// Stop halts the cron runner and all one-shot timers. Pending fires are
// rescheduled from the store on the next Start.
func (s *ReminderService) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Create validates, persists and schedules a new reminder.
func (s *ReminderService) Create(ctx context.Context, req reminder.CreateRequest) (*reminder.Reminder, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if (req.At == nil) == (req.CronExpr == "") {
		return nil, fmt.Errorf("%w: exactly one of at or cron_expr must be set", domain.ErrValidation)
	}
	if req.CronExpr != "" {
		if _, err := cron.ParseStandard(req.CronExpr); err != nil {
			return nil, fmt.Errorf("%w: invalid cron expression: %v", domain.ErrValidation, err)
		}
	}

	rem, err := s.store.CreateReminder(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Schedule(*rem); err != nil {
		return nil, err
	}

	s.logger.Info("reminder created", "reminder_id", rem.ID, "run_id", rem.RunID)
	return rem, nil
}

// Schedule arms the timer or cron entry for an active reminder. One-shot
// reminders already past due fire immediately.
func (s *ReminderService) Schedule(rem reminder.Reminder) error {
	if rem.CronExpr != "" {
		id, err := s.cron.AddFunc(rem.CronExpr, func() { s.fire(rem.ID) })
		if err != nil {
			return fmt.Errorf("%w: invalid cron expression: %v", domain.ErrValidation, err)
		}
		s.mu.Lock()
		s.entries[rem.ID] = id
		s.mu.Unlock()
		return nil
	}

	if rem.At == nil {
		return fmt.Errorf("%w: reminder has neither at nor cron_expr", domain.ErrValidation)
	}
	delay := time.Until(*rem.At)
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.timers[rem.ID] = time.AfterFunc(delay, func() { s.fire(rem.ID) })
	s.mu.Unlock()
	return nil
}

// Cancel deactivates a reminder and disarms its schedule.
func (s *ReminderService) Cancel(ctx context.Context, id string) error {
	if err := s.store.UpdateReminderStatus(ctx, id, reminder.StatusCanceled); err != nil {
		return err
	}
	s.disarm(id)
	s.logger.Info("reminder canceled", "reminder_id", id)
	return nil
}

// List returns reminders, optionally filtered by status.
func (s *ReminderService) List(ctx context.Context, status reminder.Status) ([]reminder.Reminder, error) {
	return s.store.ListReminders(ctx, status)
}

// Get returns one reminder.
func (s *ReminderService) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	return s.store.GetReminder(ctx, id)
}

func (s *ReminderService) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire publishes the due notification and, for one-shot reminders, retires
// the record. Canceled reminders that still had an armed schedule are skipped.
func (s *ReminderService) fire(id string) {
	ctx := context.Background()

	rem, err := s.store.GetReminder(ctx, id)
	if err != nil {
		s.logger.Error("fire reminder lookup failed", "reminder_id", id, "error", err)
		return
	}
	if rem.Status != reminder.StatusActive {
		s.disarm(id)
		return
	}

	now := time.Now().UTC()
	// Without a durable reminder_due event the fire does not happen; the
	// schedule stays armed and the next attempt retries.
	if err := s.emitRunEvent(ctx, rem, event.TypeReminderDue); err != nil {
		s.logger.Error("append reminder event failed", "reminder_id", rem.ID, "error", err)
		return
	}

	payload, err := json.Marshal(messagequeue.ReminderFire{
		ReminderID: rem.ID,
		RunID:      rem.RunID,
		Message:    rem.Message,
		FiredAt:    now.Format(time.RFC3339),
	})
	if err == nil && s.queue != nil {
		err = s.queue.Publish(ctx, messagequeue.SubjectReminderFire, payload)
	}
	if err != nil {
		s.logger.Error("publish reminder fire failed", "reminder_id", rem.ID, "error", err)
		return
	}

	if err := s.emitRunEvent(ctx, rem, event.TypeReminderSent); err != nil {
		// The notification already went out; all that is left is to
		// report the missing log entry.
		s.logger.Error("append reminder event failed", "reminder_id", rem.ID, "error", err)
	}

	if rem.CronExpr == "" {
		if err := s.store.UpdateReminderStatus(ctx, rem.ID, reminder.StatusFired); err != nil {
			s.logger.Error("mark reminder fired failed", "reminder_id", rem.ID, "error", err)
		}
		s.disarm(id)
	}
	s.logger.Info("reminder fired", "reminder_id", rem.ID, "recurring", rem.CronExpr != "")
}

// emitRunEvent records reminder activity on the owning run's event log, if
// the reminder is run-bound. The event is fanned out only after it is
// durable.
func (s *ReminderService) emitRunEvent(ctx context.Context, rem *reminder.Reminder, typ event.Type) error {
	if rem.RunID == "" {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"reminder_id": rem.ID, "message": rem.Message})
	ev := &event.Event{RunID: rem.RunID, Type: typ, Payload: payload}
	if err := s.events.Append(ctx, ev); err != nil {
		return err
	}
	s.hub.Publish(ctx, *ev)
	return nil
}
