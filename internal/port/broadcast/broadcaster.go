// Package broadcast defines the port for delivering run events to live
// subscribers.
package broadcast

import (
	"context"

	"github.com/astrahq/astra/internal/domain/event"
)

// Broadcaster fans a persisted run event out to every subscriber of that
// run. Delivery is best-effort; slow subscribers are dropped, and they
// recover missed events by replaying the log.
type Broadcaster interface {
	Publish(ctx context.Context, ev event.Event)
}
