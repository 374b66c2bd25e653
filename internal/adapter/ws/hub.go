// Package ws implements the WebSocket event stream gateway. Clients
// subscribe to a single run and receive its events in seq order; a
// last_seq query parameter replays everything they missed before the
// live stream takes over.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/astrahq/astra/internal/domain/event"
	"github.com/astrahq/astra/internal/port/eventlog"
)

// subscriberBuffer bounds the per-subscriber event queue. A subscriber
// that falls this far behind is dropped and must reconnect with last_seq.
const subscriberBuffer = 256

// subscriber is one connected client's event queue for a single run.
type subscriber struct {
	ch chan event.Event
}

// Hub fans run events out to WebSocket subscribers keyed by run ID.
type Hub struct {
	log eventlog.Log

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a hub that uses log to replay missed events.
func NewHub(log eventlog.Log) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish implements broadcast.Broadcaster. Delivery is non-blocking: a
// subscriber with a full queue is dropped rather than stalling the engine.
func (h *Hub) Publish(_ context.Context, ev event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.RunID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("ws subscriber too slow, dropping", "run_id", ev.RunID)
			go h.unsubscribe(ev.RunID, sub)
		}
	}
}

// SubscriberCount returns the number of active subscribers for a run.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}

func (h *Hub) subscribe(runID string) *subscriber {
	sub := &subscriber{ch: make(chan event.Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscriber]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(runID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[runID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(h.subs, runID)
		}
	}
}

// HandleRunEvents upgrades GET /ws/runs/{id} to a WebSocket and streams the
// run's events. The subscriber is registered before the replay query so no
// event falls between replay and live delivery; duplicates on the seam are
// filtered by seq.
func (h *Hub) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	var lastSeq int64
	if raw := r.URL.Query().Get("last_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid last_seq", http.StatusBadRequest)
			return
		}
		lastSeq = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.subscribe(runID)
	defer h.unsubscribe(runID, sub)

	slog.Info("websocket connected", "run_id", runID, "last_seq", lastSeq, "remote", r.RemoteAddr)

	// Read loop to detect disconnects and consume pings.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if err := h.stream(ctx, conn, runID, lastSeq, sub); err != nil {
		slog.Debug("websocket stream ended", "run_id", runID, "error", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// stream replays persisted events past lastSeq, then forwards live events,
// deduplicating across the replay/live seam. It returns when the run
// reaches a terminal event, the client disconnects, or delivery fails.
func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, runID string, lastSeq int64, sub *subscriber) error {
	maxSeq := lastSeq

	replay, err := h.log.ReadSince(ctx, runID, lastSeq, 0)
	if err != nil {
		return err
	}
	for _, ev := range replay {
		if err := writeEvent(ctx, conn, ev); err != nil {
			return err
		}
		maxSeq = ev.Seq
		if ev.IsTerminalRunEvent() {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.ch:
			if !ok {
				return nil
			}
			if ev.Seq <= maxSeq {
				continue
			}
			// Fan-out order is not append order: with parallel steps an
			// event can arrive before its predecessor. Backfill the gap
			// from the log so no seq is skipped.
			if ev.Seq > maxSeq+1 {
				missed, err := h.log.ReadSince(ctx, runID, maxSeq, 0)
				if err != nil {
					return err
				}
				for _, mev := range missed {
					if mev.Seq <= maxSeq {
						continue
					}
					if err := writeEvent(ctx, conn, mev); err != nil {
						return err
					}
					maxSeq = mev.Seq
					if mev.IsTerminalRunEvent() {
						return nil
					}
				}
				if ev.Seq <= maxSeq {
					continue
				}
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
			maxSeq = ev.Seq
			if ev.IsTerminalRunEvent() {
				return nil
			}
		}
	}
}
