// Package observer turns a live document into a stream of chat turns. A
// Session finds the conversation root, subscribes to its mutations, waits
// for each burst to settle and rescans, emitting only the turns whose text
// is new or changed.
package observer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/sink"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// DefaultRootRetry is the delay between root acquisition attempts.
const DefaultRootRetry = time.Second

// Config for creating a Session.
type Config struct {
	Document    *dom.Document
	Adapter     *adapter.Adapter
	Sink        sink.Sink
	QuietWindow time.Duration
	RootRetry   time.Duration
	Logger      *slog.Logger
	// Now is the scan clock. Default: time.Now.
	Now func() time.Time
}

// Stats are point-in-time session counters.
type Stats struct {
	RootAttempts  uint64 `json:"root_attempts"`
	Acquisitions  uint64 `json:"acquisitions"`
	Notifications uint64 `json:"notifications"`
	Scans         uint64 `json:"scans"`
	Emitted       uint64 `json:"emitted"`
}

// Session observes one document for one platform.
type Session struct {
	ID string

	doc     *dom.Document
	adapter *adapter.Adapter
	sink    sink.Sink
	logger  *slog.Logger
	retry   time.Duration

	// Confined to the Run goroutine.
	scanner    *scanner
	debouncer  *debouncer
	root       *html.Node
	disconnect func()
	unwatch    func()

	// Written from observer callbacks, drained by Run.
	notifyCh   chan struct{}
	resetCh    chan struct{}
	detachedCh chan struct{}

	rootAttempts  atomic.Uint64
	acquisitions  atomic.Uint64
	notifications atomic.Uint64
	scans         atomic.Uint64
	emitted       atomic.Uint64
}

// New creates a Session. Run starts it.
func New(cfg Config) (*Session, error) {
	if cfg.Document == nil {
		return nil, errors.New("observer: nil document")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("observer: nil adapter")
	}
	if cfg.Sink == nil {
		return nil, errors.New("observer: nil sink")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RootRetry <= 0 {
		cfg.RootRetry = DefaultRootRetry
	}

	id := uuid.Must(uuid.NewV7()).String()
	return &Session{
		ID:        id,
		doc:       cfg.Document,
		adapter:   cfg.Adapter,
		sink:      cfg.Sink,
		logger:    cfg.Logger.With("session", id, "platform", cfg.Adapter.Platform),
		retry:     cfg.RootRetry,
		scanner:   newScanner(cfg.Adapter, cfg.Now),
		debouncer: newDebouncer(cfg.QuietWindow),
		notifyCh:  make(chan struct{}, 1),
		resetCh:   make(chan struct{}, 1),

		detachedCh: make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is cancelled. It waits for the document to become
// interactive, acquires the conversation root (retrying every RootRetry
// until one is found), then loops: notifications restart the quiet window,
// and each expiry triggers one scan. A document reset, or the root being
// removed from the document, drops the root and starts acquisition over.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doc.Ready():
	}

	var (
		retryTimer *time.Timer
		retryC     <-chan time.Time
	)
	armRetry := func() {
		retryTimer = time.NewTimer(s.retry)
		retryC = retryTimer.C
	}
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
		s.debouncer.stop()
		s.detach()
	}()

	reacquire := func() {
		s.debouncer.stop()
		s.detach()
		if retryTimer != nil {
			retryTimer.Stop()
			retryC = nil
		}
		if !s.acquire(ctx) {
			armRetry()
		}
	}

	if !s.acquire(ctx) {
		armRetry()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("observer: session stopped", "stats", s.Stats())
			return ctx.Err()

		case <-retryC:
			retryC = nil
			if !s.acquire(ctx) {
				armRetry()
			}

		case <-s.resetCh:
			s.logger.Info("observer: document reset, reacquiring root")
			reacquire()

		case <-s.detachedCh:
			if s.root == nil || s.doc.Attached(s.root) {
				continue
			}
			s.logger.Info("observer: root detached, reacquiring root")
			reacquire()

		case <-s.notifyCh:
			s.debouncer.notify()

		case <-s.debouncer.C():
			s.debouncer.fired()
			s.scan(ctx)
		}
	}
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{
		RootAttempts:  s.rootAttempts.Load(),
		Acquisitions:  s.acquisitions.Load(),
		Notifications: s.notifications.Load(),
		Scans:         s.scans.Load(),
		Emitted:       s.emitted.Load(),
	}
}

// acquire locates the root, subscribes to it, sends the startup ping and
// runs one immediate scan. It reports false when no root exists yet.
func (s *Session) acquire(ctx context.Context) bool {
	s.rootAttempts.Add(1)

	var (
		top     *html.Node
		root    *html.Node
		locator string
	)
	s.doc.View(func(doc *html.Node) {
		top = doc
		root, locator = s.adapter.LocateRoot(doc)
	})
	if root == nil {
		s.logger.Debug("observer: root not found, retrying", "retry", s.retry)
		return false
	}

	s.root = root
	s.disconnect = s.doc.Observe(root, dom.ObserveOptions{
		ChildList:     true,
		CharacterData: true,
		Subtree:       true,
	}, s.onRecords)
	// Removing the root or an ancestor is only visible above the root.
	s.unwatch = s.doc.Observe(top, dom.ObserveOptions{ChildList: true, Subtree: true}, s.onRemovals)
	s.acquisitions.Add(1)
	s.logger.Info("observer: root acquired", "locator", locator)

	ping, err := turn.NewEntry(s.scanner.now(), s.adapter.Platform, turn.RoleDebug, s.adapter.Ping)
	if err != nil {
		s.logger.Warn("observer: ping skipped", "error", err)
	} else {
		s.deliver(ctx, ping)
	}
	s.scan(ctx)
	return true
}

func (s *Session) detach() {
	if s.disconnect != nil {
		s.disconnect()
		s.disconnect = nil
	}
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.root = nil
}

// onRemovals asks Run to check the root is still attached whenever any
// node leaves the document.
func (s *Session) onRemovals(records []dom.Record) {
	for _, r := range records {
		if r.Type == dom.RecordChildList && len(r.Removed) > 0 {
			s.signalDetached()
			return
		}
	}
}

func (s *Session) signalDetached() {
	select {
	case s.detachedCh <- struct{}{}:
	default:
	}
}

// onRecords runs on the mutating goroutine after the tree lock is released.
// It only signals Run; sends never block because one pending signal already
// guarantees the quiet window will restart.
func (s *Session) onRecords(records []dom.Record) {
	relevant := false
	for _, r := range records {
		switch r.Type {
		case dom.RecordReset:
			select {
			case s.resetCh <- struct{}{}:
			default:
			}
			return
		case dom.RecordChildList, dom.RecordCharacterData:
			relevant = true
		}
	}
	if !relevant {
		return
	}
	s.notifications.Add(1)
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Session) scan(ctx context.Context) {
	if s.root == nil {
		return
	}
	if !s.doc.Attached(s.root) {
		s.signalDetached()
		return
	}
	var entries []turn.LogEntry
	s.doc.View(func(*html.Node) {
		entries = s.scanner.scan(s.root)
	})
	s.scans.Add(1)

	for _, e := range entries {
		s.deliver(ctx, e)
	}
	if len(entries) > 0 {
		s.emitted.Add(uint64(len(entries)))
		s.logger.Debug("observer: scan emitted", "entries", len(entries))
	}
}

func (s *Session) deliver(ctx context.Context, e turn.LogEntry) {
	if err := s.sink.Deliver(ctx, e); err != nil {
		s.logger.Warn("observer: deliver failed", "role", e.Role, "error", err)
	}
}
