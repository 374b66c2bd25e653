package ws

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/astrahq/astra/internal/domain/event"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageTypeRunEvent wraps a run event in the stream envelope.
const MessageTypeRunEvent = "run_event"

func writeEvent(ctx context.Context, conn *websocket.Conn, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{Type: MessageTypeRunEvent, Payload: payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
