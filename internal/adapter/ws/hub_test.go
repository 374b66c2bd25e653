package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/astrahq/astra/internal/domain/event"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.SubscriberCount("r1") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount("r1"))
	}
}

func TestHubPublishNoSubscribers(t *testing.T) {
	hub := NewHub(nil)

	// Publish with no subscribers should not panic.
	hub.Publish(context.Background(), event.Event{RunID: "r1", Seq: 1, Type: event.TypeRunStarted})
}

func TestHubSubscribePublishUnsubscribe(t *testing.T) {
	hub := NewHub(nil)

	sub := hub.subscribe("r1")
	if hub.SubscriberCount("r1") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount("r1"))
	}

	hub.Publish(context.Background(), event.Event{RunID: "r1", Seq: 1, Type: event.TypeRunStarted})
	hub.Publish(context.Background(), event.Event{RunID: "other", Seq: 1, Type: event.TypeRunStarted})

	ev := <-sub.ch
	if ev.Seq != 1 || ev.RunID != "r1" {
		t.Errorf("got event %+v, want run r1 seq 1", ev)
	}
	select {
	case extra := <-sub.ch:
		t.Errorf("unexpected event for other run: %+v", extra)
	default:
	}

	hub.unsubscribe("r1", sub)
	if hub.SubscriberCount("r1") != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", hub.SubscriberCount("r1"))
	}
	if _, ok := <-sub.ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestHubUnsubscribeTwice(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.subscribe("r1")

	hub.unsubscribe("r1", sub)
	// Second unsubscribe must not close the channel again.
	hub.unsubscribe("r1", sub)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.subscribe("r1")

	// Fill the buffer without draining, then publish one more.
	for i := range subscriberBuffer + 1 {
		hub.Publish(context.Background(), event.Event{RunID: "r1", Seq: int64(i + 1), Type: event.TypeTaskProgress})
	}

	// The overflowing publish schedules removal; drain the channel so the
	// close can be observed.
	for range sub.ch {
	}
	if hub.SubscriberCount("r1") != 0 {
		t.Errorf("slow subscriber not dropped, count = %d", hub.SubscriberCount("r1"))
	}
}

// stubLog is an in-memory event log for stream tests. Events are pre-seeded
// with add or appended with assigned seqs, per run.
type stubLog struct {
	mu     sync.Mutex
	events map[string][]event.Event
}

func newStubLog() *stubLog {
	return &stubLog{events: make(map[string][]event.Event)}
}

func (l *stubLog) add(ev event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.RunID] = append(l.events[ev.RunID], ev)
}

func (l *stubLog) Append(_ context.Context, ev *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Seq = int64(len(l.events[ev.RunID]) + 1)
	l.events[ev.RunID] = append(l.events[ev.RunID], *ev)
	return nil
}

func (l *stubLog) ReadSince(_ context.Context, runID string, afterSeq int64, limit int) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Event
	for _, ev := range l.events[runID] {
		if ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *stubLog) ReadTail(_ context.Context, runID string, n int) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := l.events[runID]
	if n > 0 && len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	return append([]event.Event(nil), evs...), nil
}

// dialRunStream serves the hub over httptest and opens a client connection
// for runID, optionally resuming from lastSeq.
func dialRunStream(t *testing.T, hub *Hub, runID string, lastSeq int64) *websocket.Conn {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/ws/runs/{id}", hub.HandleRunEvents)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs/" + runID
	if lastSeq > 0 {
		url += "?last_seq=" + strconv.FormatInt(lastSeq, 10)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readStreamEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if msg.Type != MessageTypeRunEvent {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeRunEvent)
	}
	var ev event.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func waitForSubscriber(t *testing.T, hub *Hub, runID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(runID) > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("subscriber never registered")
}

// TestHandleRunEventsReplayThenLive walks a client across the replay/live
// seam: persisted events come back first, a live duplicate of the last
// replayed seq is filtered, and new live events follow in order until the
// terminal event closes the stream.
func TestHandleRunEventsReplayThenLive(t *testing.T) {
	log := newStubLog()
	log.add(event.Event{RunID: "r1", Seq: 1, Type: event.TypeRunStarted})
	log.add(event.Event{RunID: "r1", Seq: 2, Type: event.TypeTaskProgress})
	hub := NewHub(log)

	conn := dialRunStream(t, hub, "r1", 0)
	waitForSubscriber(t, hub, "r1")

	ctx := context.Background()
	hub.Publish(ctx, event.Event{RunID: "r1", Seq: 2, Type: event.TypeTaskProgress})
	ev3 := event.Event{RunID: "r1", Seq: 3, Type: event.TypeTaskDone}
	log.add(ev3)
	hub.Publish(ctx, ev3)
	ev4 := event.Event{RunID: "r1", Seq: 4, Type: event.TypeRunDone}
	log.add(ev4)
	hub.Publish(ctx, ev4)

	for i, want := range []int64{1, 2, 3, 4} {
		if got := readStreamEvent(t, conn).Seq; got != want {
			t.Fatalf("event %d: seq = %d, want %d", i, got, want)
		}
	}

	// The run_done event ends the stream server-side.
	readCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(readCtx); err == nil {
		t.Error("stream still open after terminal event")
	}
}

// TestHandleRunEventsBackfillsGap covers out-of-order fan-out: when a later
// seq is delivered first, the skipped one is backfilled from the log and the
// late arrival is not sent twice.
func TestHandleRunEventsBackfillsGap(t *testing.T) {
	log := newStubLog()
	log.add(event.Event{RunID: "r1", Seq: 1, Type: event.TypeRunStarted})
	hub := NewHub(log)

	conn := dialRunStream(t, hub, "r1", 0)
	waitForSubscriber(t, hub, "r1")
	if got := readStreamEvent(t, conn).Seq; got != 1 {
		t.Fatalf("replay seq = %d, want 1", got)
	}

	// Both events are committed, but fan-out delivers 3 before 2.
	ev2 := event.Event{RunID: "r1", Seq: 2, Type: event.TypeTaskProgress}
	ev3 := event.Event{RunID: "r1", Seq: 3, Type: event.TypeTaskDone}
	log.add(ev2)
	log.add(ev3)
	hub.Publish(context.Background(), ev3)

	if got := readStreamEvent(t, conn).Seq; got != 2 {
		t.Fatalf("backfilled seq = %d, want 2", got)
	}
	if got := readStreamEvent(t, conn).Seq; got != 3 {
		t.Fatalf("next seq = %d, want 3", got)
	}

	// The late copy of 2 must be filtered as a duplicate.
	hub.Publish(context.Background(), ev2)
	ev4 := event.Event{RunID: "r1", Seq: 4, Type: event.TypeRunDone}
	log.add(ev4)
	hub.Publish(context.Background(), ev4)
	if got := readStreamEvent(t, conn).Seq; got != 4 {
		t.Fatalf("after duplicate, seq = %d, want %d", got, 4)
	}
}
