// CLAUDE:SUMMARY Opens the SQLite page database and loads chat_pages rows.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the chat_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	platform      TEXT NOT NULL,
	stealth_level TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active',
	updated_at    INTEGER NOT NULL
);
`

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// OpenDB opens the page database, applies pragmas and creates the schema.
// The pool is limited to one connection: PRAGMA data_version is per
// connection, and change detection must always read the same one.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("config: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("config: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("config: schema: %w", err)
	}
	return db, nil
}

// LoadPages reads all active pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, platform, stealth_level
		FROM chat_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		if err := rows.Scan(&p.ID, &p.URL, &p.Platform, &p.StealthLevel); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		p.Platform = strings.ToLower(p.Platform)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces an active page.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_pages (id, url, platform, stealth_level, status, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			platform = excluded.platform,
			stealth_level = excluded.stealth_level,
			status = 'active',
			updated_at = excluded.updated_at
	`, p.ID, p.URL, p.Platform, p.StealthLevel, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert page %s: %w", p.ID, err)
	}
	return nil
}

// DisablePage marks a page inactive.
func DisablePage(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE chat_pages SET status = 'disabled', updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("config: disable page %s: %w", id, err)
	}
	return nil
}
