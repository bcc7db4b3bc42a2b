// Package sink defines output backends for observed turns.
package sink

import (
	"context"
	"errors"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

var (
	// ErrQueueFull means the router dropped an entry because its delivery
	// queue was saturated. The entry is lost.
	ErrQueueFull = errors.New("sink: queue full")
	// ErrClosed is returned by Deliver after Close.
	ErrClosed = errors.New("sink: closed")
)

// Sink is the output interface. Implementations deliver one entry per call
// to a backend (local HTTP logger, stdout, in-process callback). Delivery
// is best-effort: callers never retry.
type Sink interface {
	Deliver(ctx context.Context, entry turn.LogEntry) error
	Close() error
}
