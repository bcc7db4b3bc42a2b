package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// DefaultQueueSize bounds the number of entries waiting for delivery.
const DefaultQueueSize = 1024

// Router fans entries out to all configured sinks from a single worker
// goroutine, so Deliver never waits on a backend and entries reach each
// sink in emission order. One sink error does not block the others;
// failures are logged and the entry is not retried.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
	queue  chan turn.LogEntry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Stats are point-in-time delivery counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// NewRouter starts a router delivering to sinks. queueSize <= 0 selects
// DefaultQueueSize.
func NewRouter(logger *slog.Logger, queueSize int, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Router{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan turn.LogEntry, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Deliver enqueues entry without blocking. It returns ErrQueueFull when
// the entry had to be dropped.
func (r *Router) Deliver(_ context.Context, entry turn.LogEntry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- entry:
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Warn("sink: queue full, entry dropped",
			"platform", entry.Platform, "role", entry.Role)
		return ErrQueueFull
	}
}

// Close stops accepting entries, drains the queue and closes every sink.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns the current counters.
func (r *Router) Stats() Stats {
	return Stats{
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Router) run() {
	defer close(r.done)
	ctx := context.Background()
	for entry := range r.queue {
		for _, s := range r.sinks {
			if err := s.Deliver(ctx, entry); err != nil {
				r.failed.Add(1)
				r.logger.Warn("sink: deliver failed",
					"platform", entry.Platform, "role", entry.Role, "error", err)
				continue
			}
			r.delivered.Add(1)
		}
	}
}
