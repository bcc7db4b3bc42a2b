// CLAUDE:SUMMARY In-process callback sink delivering entries via Go function calls with zero serialization.
package sink

import (
	"context"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// EntryFunc is called for each entry.
type EntryFunc func(ctx context.Context, entry turn.LogEntry) error

// Callback delivers entries via a Go function call, for consumers living
// in the same binary.
type Callback struct {
	fn EntryFunc
}

// NewCallback creates a Callback sink. A nil fn discards entries.
func NewCallback(fn EntryFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Deliver(ctx context.Context, entry turn.LogEntry) error {
	if c.fn != nil {
		return c.fn(ctx, entry)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
