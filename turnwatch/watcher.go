// Package turnwatch extracts chat turns from live provider pages (ChatGPT,
// Claude, Gemini and config-defined ones) and forwards every new or changed
// turn to sinks, once per content state.
//
// A Watcher drives a Chrome on the user's logged-in profile, mirrors each
// page's DOM into an in-process tree and runs one observer session per
// page. Documents can also be observed directly (ObserveDocument) or
// scanned once from HTML (ScanHTML, ScanURL).
package turnwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/browser"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/config"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/fetcher"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/mirror"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/observer"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/sink"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// ErrPageExists is returned when a page ID is already observed.
var ErrPageExists = errors.New("turnwatch: page already observed")

// Watcher is the top-level orchestrator. It owns the browser, the sink
// router and one session per observed page.
type Watcher struct {
	cfg      *config.Config
	registry *adapter.Registry
	mgr      *browser.Manager
	fetch    *fetcher.Fetcher
	router   *sink.Router
	logger   *slog.Logger
	// stealth is the browser-wide level pages inherit.
	stealth browser.StealthLevel

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	pages    map[string]*pageRun
	db       *sql.DB
	browsing bool
	wg       sync.WaitGroup
}

// pageRun is one running session and what feeds it.
type pageRun struct {
	cfg     config.PageConfig
	fromDB  bool
	tab     *browser.Tab
	session *observer.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Stats aggregates sink and per-page session counters.
type Stats struct {
	Sink  sink.Stats                `json:"sink"`
	Pages map[string]observer.Stats `json:"pages"`
}

// New creates a Watcher. Sinks come from cfg.Sinks plus any extra ones.
func New(cfg *Config, logger *slog.Logger, extra ...Sink) (*Watcher, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := adapter.NewRegistry(cfg.Adapters...)
	if err != nil {
		return nil, fmt.Errorf("turnwatch: adapters: %w", err)
	}

	sinks, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extra...)

	stealth, err := browser.ParseStealthLevel(cfg.Browser.Stealth, browser.LevelHeadless)
	if err != nil {
		return nil, fmt.Errorf("turnwatch: %w", err)
	}

	return &Watcher{
		cfg:      cfg,
		registry: registry,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			ProfileDir:       cfg.Browser.ProfileDir,
			Bin:              cfg.Browser.Bin,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Stealth:          stealth,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		}),
		fetch:   fetcher.New(fetcher.WithLogger(logger)),
		router:  sink.NewRouter(logger, cfg.Engine.QueueSize, sinks...),
		logger:  logger,
		stealth: stealth,
		pages:   make(map[string]*pageRun),
	}, nil
}

// Platforms lists the platforms an adapter is registered for.
func (w *Watcher) Platforms() []turn.Platform {
	return w.registry.Platforms()
}

// Start begins observing every configured page and, when a database is
// configured, every active chat_pages row, reloading on table changes.
// Chrome is launched only if some page needs it.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx, w.cancel = ctx, cancel
	w.mu.Unlock()

	for _, p := range w.cfg.Pages {
		if err := w.observe(ctx, p, false); err != nil {
			w.logger.Error("turnwatch: failed to observe page",
				"id", p.ID, "url", p.URL, "error", err)
		}
	}

	if w.cfg.Database == "" {
		return nil
	}
	db, err := config.OpenDB(w.cfg.Database)
	if err != nil {
		return fmt.Errorf("turnwatch: %w", err)
	}
	w.mu.Lock()
	w.db = db
	w.mu.Unlock()

	if err := w.syncDBPages(ctx); err != nil {
		w.logger.Error("turnwatch: initial page load failed", "error", err)
	}
	reloader := config.NewReloader(db, 0, 0, w.logger)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		reloader.Run(ctx, w.syncDBPages)
	}()
	return nil
}

// ObservePage starts observing a single page in the browser. Pages at the
// http stealth level are fetched and scanned once instead.
func (w *Watcher) ObservePage(ctx context.Context, p PageConfig) error {
	return w.observe(ctx, p, false)
}

func (w *Watcher) observe(ctx context.Context, p config.PageConfig, fromDB bool) error {
	a, err := w.registry.Lookup(turn.Platform(p.Platform))
	if err != nil {
		return err
	}
	level, err := w.pageLevel(p)
	if err != nil {
		return err
	}
	if level == browser.LevelHTTP {
		_, err := w.ScanURL(ctx, p.Platform, p.URL)
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pages[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPageExists, p.ID)
	}
	if err := w.ensureBrowserLocked(ctx); err != nil {
		return err
	}
	run, err := w.openLocked(ctx, p, a, level)
	if err != nil {
		return err
	}
	run.fromDB = fromDB
	w.pages[p.ID] = run
	w.logger.Info("turnwatch: observing page",
		"id", p.ID, "url", p.URL, "platform", a.Platform, "stealth", level)
	return nil
}

func (w *Watcher) ensureBrowserLocked(ctx context.Context) error {
	if w.browsing {
		return nil
	}
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("turnwatch: start browser: %w", err)
	}
	// After runs with the manager locked, and reopening needs the manager.
	w.mgr.SetRecycleHooks(&browser.RecycleHooks{
		After: func(*rod.Browser) { go w.reopenTabs() },
	})
	w.browsing = true
	return nil
}

// openLocked opens a tab, mirrors its DOM and starts a session on it.
func (w *Watcher) openLocked(ctx context.Context, p config.PageConfig, a *adapter.Adapter, level browser.StealthLevel) (*pageRun, error) {
	tab, err := browser.OpenTab(ctx, w.mgr, p.URL, p.ID, level)
	if err != nil {
		return nil, fmt.Errorf("turnwatch: open tab: %w", err)
	}

	pageCtx, cancel := context.WithCancel(ctx)
	m := mirror.New(tab.Page, w.logger.With("page", p.ID))
	if err := m.Start(pageCtx); err != nil {
		cancel()
		tab.Close()
		return nil, fmt.Errorf("turnwatch: mirror: %w", err)
	}

	run, err := w.runSession(pageCtx, cancel, m.Document(), a)
	if err != nil {
		cancel()
		tab.Close()
		return nil, err
	}
	run.cfg = p
	run.tab = tab
	return run, nil
}

func (w *Watcher) runSession(ctx context.Context, cancel context.CancelFunc, doc *dom.Document, a *adapter.Adapter) (*pageRun, error) {
	s, err := observer.New(observer.Config{
		Document:    doc,
		Adapter:     a,
		Sink:        w.router,
		QuietWindow: w.cfg.Engine.QuietWindow,
		RootRetry:   w.cfg.Engine.RootRetry,
		Logger:      w.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("turnwatch: %w", err)
	}
	run := &pageRun{session: s, cancel: cancel, done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(run.done)
		s.Run(ctx)
	}()
	return run, nil
}

// ObserveDocument runs a session on an in-process document until ctx is
// cancelled or the watcher stops. The returned ID names it in Stats and
// StopPage.
func (w *Watcher) ObserveDocument(ctx context.Context, platform string, doc *Document) (string, error) {
	a, err := w.registry.Lookup(turn.Platform(platform))
	if err != nil {
		return "", err
	}
	sessCtx, cancel := context.WithCancel(ctx)
	run, err := w.runSession(sessCtx, cancel, doc, a)
	if err != nil {
		cancel()
		return "", err
	}
	run.cfg = config.PageConfig{ID: run.session.ID, Platform: platform}

	w.mu.Lock()
	w.pages[run.session.ID] = run
	w.mu.Unlock()
	return run.session.ID, nil
}

// StopPage stops observing one page.
func (w *Watcher) StopPage(id string) bool {
	w.mu.Lock()
	run, ok := w.pages[id]
	delete(w.pages, id)
	w.mu.Unlock()
	if !ok {
		return false
	}
	stopRun(run)
	w.logger.Info("turnwatch: stopped page", "id", id)
	return true
}

// pageLevel is the page's own stealth level, or the browser's when unset.
func (w *Watcher) pageLevel(p config.PageConfig) (browser.StealthLevel, error) {
	return browser.ParseStealthLevel(p.StealthLevel, w.stealth)
}

func stopRun(run *pageRun) {
	run.cancel()
	<-run.done
	if run.tab != nil {
		run.tab.Close()
	}
}

// ScanHTML parses HTML and returns its turns without delivering them.
func (w *Watcher) ScanHTML(platform string, r io.Reader) ([]turn.LogEntry, error) {
	a, err := w.registry.Lookup(turn.Platform(platform))
	if err != nil {
		return nil, err
	}
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("turnwatch: %w", err)
	}
	return observer.ScanOnce(doc, a, time.Now()), nil
}

// ScanURL fetches a page over HTTP, scans it once and delivers the turns
// to the sinks.
func (w *Watcher) ScanURL(ctx context.Context, platform, url string) ([]turn.LogEntry, error) {
	a, err := w.registry.Lookup(turn.Platform(platform))
	if err != nil {
		return nil, err
	}
	res, err := w.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if !res.Sufficient {
		w.logger.Warn("turnwatch: page looks client-rendered, a browser is probably needed", "url", url)
	}
	entries := observer.ScanOnce(res.Document, a, time.Now())
	w.Deliver(ctx, entries...)
	w.logger.Info("turnwatch: scanned page over http", "url", url, "entries", len(entries))
	return entries, nil
}

// Deliver sends entries to the sinks.
func (w *Watcher) Deliver(ctx context.Context, entries ...turn.LogEntry) {
	for _, e := range entries {
		if err := w.router.Deliver(ctx, e); err != nil {
			w.logger.Warn("turnwatch: deliver failed", "error", err)
		}
	}
}

// Probe reports how the platform adapter sees an HTML document.
func (w *Watcher) Probe(platform string, r io.Reader) (ProbeReport, error) {
	a, err := w.registry.Lookup(turn.Platform(platform))
	if err != nil {
		return ProbeReport{}, err
	}
	doc, err := dom.Parse(r)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("turnwatch: %w", err)
	}
	var rep ProbeReport
	doc.View(func(n *html.Node) { rep = a.Probe(n) })
	return rep, nil
}

// Stats returns sink and per-page counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Stats{Sink: w.router.Stats(), Pages: make(map[string]observer.Stats, len(w.pages))}
	for id, run := range w.pages {
		st.Pages[id] = run.session.Stats()
	}
	return st
}

// Stop ends every session, drains the sinks and shuts Chrome down.
func (w *Watcher) Stop() {
	w.mu.Lock()
	runs := w.pages
	w.pages = make(map[string]*pageRun)
	db := w.db
	w.db = nil
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	for id, run := range runs {
		stopRun(run)
		w.logger.Info("turnwatch: stopped page", "id", id)
	}
	w.wg.Wait()

	w.router.Close()
	w.mgr.Close()
	if db != nil {
		db.Close()
	}
}

// syncDBPages starts pages added to chat_pages and stops those removed or
// disabled. Pages from the YAML file are left alone.
func (w *Watcher) syncDBPages(ctx context.Context) error {
	w.mu.Lock()
	db := w.db
	w.mu.Unlock()
	if db == nil {
		return nil
	}

	pages, err := config.LoadPages(ctx, db)
	if err != nil {
		return err
	}
	want := make(map[string]config.PageConfig, len(pages))
	for _, p := range pages {
		want[p.ID] = p
	}

	w.mu.Lock()
	var stale []string
	for id, run := range w.pages {
		if !run.fromDB {
			continue
		}
		if p, ok := want[id]; !ok || p != run.cfg {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()
	for _, id := range stale {
		w.StopPage(id)
	}

	for _, p := range pages {
		w.mu.Lock()
		_, running := w.pages[p.ID]
		w.mu.Unlock()
		if running {
			continue
		}
		if err := w.observe(ctx, p, true); err != nil {
			w.logger.Error("turnwatch: failed to observe page", "id", p.ID, "error", err)
		}
	}
	return nil
}

// reopenTabs replaces every browser page after a Chrome recycle. The old
// tabs died with the old process; the new ones hold new nodes, so their
// turns are emitted again.
func (w *Watcher) reopenTabs() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil || w.ctx.Err() != nil {
		return
	}
	for id, run := range w.pages {
		if run.tab == nil {
			continue
		}
		run.cancel()
		<-run.done
		run.tab.Close()

		a, err := w.registry.Lookup(turn.Platform(run.cfg.Platform))
		if err != nil {
			delete(w.pages, id)
			continue
		}
		level, _ := w.pageLevel(run.cfg)
		fresh, err := w.openLocked(w.ctx, run.cfg, a, level)
		if err != nil {
			w.logger.Error("turnwatch: reopen after recycle failed", "id", id, "error", err)
			delete(w.pages, id)
			continue
		}
		fresh.fromDB = run.fromDB
		w.pages[id] = fresh
	}
}
