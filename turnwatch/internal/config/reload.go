package config

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// Reloader polls PRAGMA data_version and calls an action once writes from
// another connection have settled for the debounce window.
type Reloader struct {
	db       *sql.DB
	interval time.Duration
	debounce time.Duration
	logger   *slog.Logger

	version atomic.Int64
	checks  atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// ReloadStats are point-in-time counters.
type ReloadStats struct {
	Checks  int64 `json:"checks"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
}

// NewReloader creates a Reloader with a 200ms poll and 500ms debounce
// unless overridden.
func NewReloader(db *sql.DB, interval, debounce time.Duration, logger *slog.Logger) *Reloader {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{db: db, interval: interval, debounce: debounce, logger: logger}
}

// Stats returns the current counters.
func (r *Reloader) Stats() ReloadStats {
	return ReloadStats{Checks: r.checks.Load(), Reloads: r.reloads.Load(), Errors: r.errors.Load()}
}

// Run blocks until ctx is cancelled. A failed action leaves the version
// unchanged so the next poll retries it.
func (r *Reloader) Run(ctx context.Context, action func(ctx context.Context) error) {
	if v, err := dataVersion(ctx, r.db); err != nil {
		r.logger.Warn("config: initial data_version failed", "error", err)
	} else {
		r.version.Store(v)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = int64(-1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			r.checks.Add(1)
			cur, err := dataVersion(ctx, r.db)
			if err != nil {
				r.errors.Add(1)
				r.logger.Warn("config: data_version failed", "error", err)
				continue
			}
			if cur == r.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.debounce)
			timerC = timer.C
			r.logger.Debug("config: page table changed, debouncing", "version", cur)

		case <-timerC:
			timerC = nil
			if pending < 0 {
				continue
			}
			if err := action(ctx); err != nil {
				r.errors.Add(1)
				r.logger.Error("config: reload failed", "error", err)
				pending = -1
				continue
			}
			r.reloads.Add(1)
			r.version.Store(pending)
			r.logger.Info("config: pages reloaded", "version", pending)
			pending = -1
		}
	}
}

func dataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
