// CLAUDE:SUMMARY Runs the Chrome that hosts the observed chat tabs: launch or connect, profile reuse, heap monitoring, periodic recycle.
// Package browser owns the Chrome process behind observed chat pages. Chat
// providers require a logged-in session, so the manager launches Chrome on
// a persistent profile directory (or attaches to one the user already runs)
// and recycles it on a memory or age threshold.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager closed")

// StealthLevel controls how a tab is driven.
type StealthLevel int

const (
	LevelHTTP     StealthLevel = 0 // no browser, one-shot HTTP fetch
	LevelHeadless StealthLevel = 1 // headless Chrome with stealth patches
	LevelHeadful  StealthLevel = 2 // real window on an Xvfb display
)

func (l StealthLevel) String() string {
	switch l {
	case LevelHTTP:
		return "http"
	case LevelHeadless:
		return "headless"
	case LevelHeadful:
		return "headful"
	default:
		return fmt.Sprintf("StealthLevel(%d)", int(l))
	}
}

// ParseStealthLevel accepts the names above or their digits. An empty
// string selects def.
func ParseStealthLevel(s string, def StealthLevel) (StealthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "0", "http":
		return LevelHTTP, nil
	case "1", "headless":
		return LevelHeadless, nil
	case "2", "headful":
		return LevelHeadful, nil
	}
	return def, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a Chrome the user already
	// runs. Empty launches a local Chrome.
	RemoteURL string

	// ProfileDir is the user data directory holding the chat logins.
	// Empty uses a throwaway profile.
	ProfileDir string

	// Bin overrides the Chrome binary. Empty lets the launcher find or
	// download one.
	Bin string

	// MemoryLimit in bytes of JS heap before a recycle. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types never loaded (images, fonts,
	// media, stylesheets). Turn text does not depend on any of them.
	ResourceBlocking []string

	// Stealth is the launch mode. Default: LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Stealth == LevelHTTP {
		c.Stealth = LevelHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleHooks let the owner of open tabs drop them before Chrome is
// killed and reopen them afterwards.
type RecycleHooks struct {
	Before func()
	After  func(b *rod.Browser)
}

// Manager owns one Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	hooks   *RecycleHooks
}

// NewManager creates a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetRecycleHooks installs the recycle hooks.
func (m *Manager) SetRecycleHooks(h *RecycleHooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the monitor goroutine,
// which lives until ctx is cancelled or the manager is closed.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome, calling the hooks around the restart.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.recycleLocked()
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

// launcher builds the local launch command line.
func (m *Manager) launcher() *launcher.Launcher {
	l := launcher.New()
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.ProfileDir != "" {
		l = l.UserDataDir(m.cfg.ProfileDir)
	}
	if m.cfg.Stealth == LevelHeadful {
		l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
	} else {
		l = l.Headless(true)
	}
	return l.Set("disable-blink-features", "AutomationControlled")
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: attaching to running chrome", "url", wsURL)
	} else {
		if m.cfg.Stealth == LevelHeadful {
			if err := m.ensureDisplay(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		l := m.launcher()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched chrome",
			"stealth", m.cfg.Stealth, "profile", m.cfg.ProfileDir)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() error {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	if m.hooks != nil && m.hooks.Before != nil {
		m.hooks.Before()
	}

	m.cleanup()

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()

	if m.hooks != nil && m.hooks.After != nil {
		m.hooks.After(b)
	}
	log.Info("browser: recycled")
	return nil
}

// cleanup kills a launched Chrome. An attached remote Chrome is only
// disconnected: it belongs to the user.
func (m *Manager) cleanup() {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		if m.closed || m.browser == nil {
			m.mu.RUnlock()
			return
		}
		b, startAt := m.browser, m.startAt
		m.mu.RUnlock()

		reason := ""
		if time.Since(startAt) > m.cfg.RecycleInterval {
			reason = "interval"
		} else if used, err := heapUsage(b); err != nil {
			log.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			reason = "memory"
			log.Info("browser: heap over limit", "used", used, "limit", m.cfg.MemoryLimit)
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(ctx); err != nil {
			log.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsage sums the JS heap of every open tab.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no pages")
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
