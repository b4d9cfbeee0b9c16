// Package cache is the on-device SQLite store that mirrors remote recipes
// and holds user-local state (favorites, likes, view and search history).
package cache

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/imdevinc/recipe-mirror/internal/events"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS recipes (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	name_key         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	time_cook        INTEGER NOT NULL DEFAULT 0,
	difficulty       TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	people           INTEGER NOT NULL DEFAULT 1,
	ingredients      TEXT NOT NULL DEFAULT '[]',
	steps            TEXT NOT NULL DEFAULT '[]',
	user_id          TEXT NOT NULL DEFAULT '',
	author_name      TEXT NOT NULL DEFAULT '',
	author_avatar    TEXT NOT NULL DEFAULT '',
	category_id      TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL DEFAULT 0,
	like_count       INTEGER NOT NULL DEFAULT 0,
	like_override    INTEGER,
	is_favorite      INTEGER NOT NULL DEFAULT 0,
	last_viewed_time INTEGER
);

CREATE INDEX IF NOT EXISTS idx_recipes_category ON recipes(category_id);
CREATE INDEX IF NOT EXISTS idx_recipes_created ON recipes(created_at);
CREATE INDEX IF NOT EXISTS idx_recipes_favorite ON recipes(is_favorite);

CREATE TABLE IF NOT EXISTS recipe_index (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	name_key TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS search_history (
	query     TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	user_id   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS recent_viewed (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	recipe_id TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	UNIQUE(recipe_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_recent_viewed_user ON recent_viewed(user_id, timestamp);
`

// Read caps.
const (
	RecentlyViewedLimit = 20
	SearchHistoryLimit  = 10
	SuggestLimit        = 10
)

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn   *sql.DB
	broker *events.Broker

	// recentRetention > 0 prunes recent_viewed per user on write
	recentRetention int
}

// Option configures a DB.
type Option func(*DB)

// WithBroker publishes a table-changed event after every committed write.
func WithBroker(b *events.Broker) Option {
	return func(db *DB) {
		db.broker = b
	}
}

// WithRecentRetention keeps at most n view rows per user in storage.
// Zero disables write-time pruning; reads are capped regardless.
func WithRecentRetention(n int) Option {
	return func(db *DB) {
		db.recentRetention = n
	}
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	db := &DB{conn: conn}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// withTx runs fn in a transaction and publishes changes for tables once the
// commit succeeded.
func (db *DB) withTx(ctx context.Context, tables []string, ids []string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}

	for _, table := range tables {
		db.broker.PublishTable(table, ids...)
	}
	return nil
}

// Stats summarizes row counts for status output.
type Stats struct {
	Recipes       int `json:"recipes"`
	Indexed       int `json:"indexed"`
	Categories    int `json:"categories"`
	Favorites     int `json:"favorites"`
	RecentViews   int `json:"recentViews"`
	SearchQueries int `json:"searchQueries"`
}

// Stats returns row counts.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM recipes),
			(SELECT count(*) FROM recipe_index),
			(SELECT count(*) FROM categories),
			(SELECT count(*) FROM recipes WHERE is_favorite = 1),
			(SELECT count(*) FROM recent_viewed),
			(SELECT count(*) FROM search_history)
	`).Scan(&s.Recipes, &s.Indexed, &s.Categories, &s.Favorites, &s.RecentViews, &s.SearchQueries)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return s, nil
}
