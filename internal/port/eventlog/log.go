// Package eventlog defines the port interface for the append-only run
// event log.
package eventlog

import (
	"context"

	"github.com/astrahq/astra/internal/domain/event"
)

// Log is the port interface for appending and reading run events.
// Appends assign per-run sequence numbers: contiguous, starting at 1,
// gapless even under concurrent appends.
type Log interface {
	// Append persists ev and fills in its ID, Seq and CreatedAt.
	Append(ctx context.Context, ev *event.Event) error

	// ReadSince returns events for the run with seq > afterSeq, ordered by
	// seq ascending. limit <= 0 means no limit.
	ReadSince(ctx context.Context, runID string, afterSeq int64, limit int) ([]event.Event, error)

	// ReadTail returns the most recent n events for the run, ordered by
	// seq ascending.
	ReadTail(ctx context.Context, runID string, n int) ([]event.Event, error)
}
