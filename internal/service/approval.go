package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astrahq/astra/internal/adapter/otel"
	"github.com/astrahq/astra/internal/domain"
	"github.com/astrahq/astra/internal/domain/approval"
	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/port/broadcast"
	"github.com/astrahq/astra/internal/port/database"
)

// ApprovalService owns the human-confirmation gate. The task runner opens a
// request and parks on Wait; the HTTP API resolves it; the first decision
// wins and wakes the parked step. Every approval write goes through the
// store together with its event, so no decision exists without a log entry.
type ApprovalService struct {
	store   database.Store
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	timeout time.Duration // 0 disables expiry

	// pending maps approval ID to the waiting runner's wake channel.
	pending sync.Map
}

// NewApprovalService creates the approval gate. timeout > 0 enables
// time-based expiry of undecided approvals.
func NewApprovalService(store database.Store, hub broadcast.Broadcaster, metrics *otel.Metrics, timeout time.Duration) *ApprovalService {
	return &ApprovalService{
		store:   store,
		hub:     hub,
		metrics: metrics,
		timeout: timeout,
	}
}

// Request creates a pending approval and emits approval_requested.
func (s *ApprovalService) Request(ctx context.Context, req approval.Request) (*approval.Approval, error) {
	ev := &event.Event{Type: event.TypeApprovalRequested}
	a, err := s.store.CreateApproval(ctx, req, ev)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(ctx, *ev)
	if s.metrics != nil {
		s.metrics.PendingApprovals.Add(ctx, 1)
	}

	slog.Info("approval requested", "approval_id", a.ID, "run_id", a.RunID, "scope", a.Scope)
	return a, nil
}

// Wait blocks until the approval is decided, the gate times out, or ctx is
// canceled. On timeout the approval is expired in the store so a late
// resolve gets a conflict.
func (s *ApprovalService) Wait(ctx context.Context, approvalID string) (approval.Status, error) {
	ch := make(chan approval.Status, 1)
	s.pending.Store(approvalID, ch)
	defer s.pending.Delete(approvalID)

	var expire <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		expire = t.C
	}

	select {
	case status := <-ch:
		return status, nil
	case <-expire:
		return s.expire(ctx, approvalID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve applies the user's decision. Exactly one resolution succeeds;
// repeats and races get domain.ErrConflict from the store's compare-and-set.
func (s *ApprovalService) Resolve(ctx context.Context, approvalID string, decision approval.Decision, detail json.RawMessage, decidedBy string) (*approval.Approval, error) {
	var status approval.Status
	var evType event.Type
	switch decision {
	case approval.DecisionApprove:
		status, evType = approval.StatusApproved, event.TypeApprovalApproved
	case approval.DecisionReject:
		status, evType = approval.StatusRejected, event.TypeApprovalRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrValidation, decision)
	}

	ev := &event.Event{Type: evType}
	a, err := s.store.ResolveApproval(ctx, approvalID, status, detail, decidedBy, ev)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(ctx, *ev)
	if s.metrics != nil {
		s.metrics.PendingApprovals.Add(ctx, -1)
	}
	s.wake(approvalID, status)

	slog.Info("approval resolved", "approval_id", approvalID, "status", status, "decided_by", decidedBy)
	return a, nil
}

// ListPending returns all undecided approvals across runs.
func (s *ApprovalService) ListPending(ctx context.Context) ([]approval.Approval, error) {
	return s.store.ListPendingApprovals(ctx)
}

// ListForRun returns every approval of a run, decided or not.
func (s *ApprovalService) ListForRun(ctx context.Context, runID string) ([]approval.Approval, error) {
	return s.store.ListApprovals(ctx, runID)
}

func (s *ApprovalService) expire(ctx context.Context, approvalID string) (approval.Status, error) {
	ev := &event.Event{Type: event.TypeApprovalExpired, Level: event.LevelWarn}
	if _, err := s.store.ResolveApproval(ctx, approvalID, approval.StatusExpired, nil, "system", ev); err != nil {
		// A decision beat the timer; report what was decided.
		if current, getErr := s.store.GetApproval(ctx, approvalID); getErr == nil {
			return current.Status, nil
		}
		return "", err
	}

	s.hub.Publish(ctx, *ev)
	if s.metrics != nil {
		s.metrics.PendingApprovals.Add(ctx, -1)
	}
	return approval.StatusExpired, nil
}

// AbortPending expires a pending approval whose runner stopped waiting for
// it, typically because the run was canceled. Losing to a concurrent
// decision is fine; the decided outcome stands.
func (s *ApprovalService) AbortPending(ctx context.Context, approvalID, reason string) {
	detail, _ := json.Marshal(map[string]string{"reason": reason})
	ev := &event.Event{Type: event.TypeApprovalExpired, Level: event.LevelWarn}
	if _, err := s.store.ResolveApproval(ctx, approvalID, approval.StatusExpired, detail, "system", ev); err != nil {
		return
	}

	s.hub.Publish(ctx, *ev)
	if s.metrics != nil {
		s.metrics.PendingApprovals.Add(ctx, -1)
	}
	slog.Info("approval aborted", "approval_id", approvalID, "reason", reason)
}

// wake delivers the decision to the parked runner, if any. The buffered
// channel makes the send safe even if the runner already gave up.
func (s *ApprovalService) wake(approvalID string, status approval.Status) {
	if val, ok := s.pending.Load(approvalID); ok {
		if ch, ok := val.(chan approval.Status); ok {
			select {
			case ch <- status:
			default:
			}
		}
	}
}
