// Package store persists shelf records, crawl sessions and owner profiles in
// SQLite. It is the only component that mutates durable state.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id      TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	title         TEXT NOT NULL,
	author        TEXT NOT NULL,
	publish_date  TEXT NOT NULL,
	rating        TEXT NOT NULL,
	review_text   TEXT NOT NULL DEFAULT '',
	review_date   TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	UNIQUE (owner_id, canonical_url)
);
CREATE INDEX IF NOT EXISTS idx_books_owner_id ON books (owner_id);
CREATE INDEX IF NOT EXISTS idx_books_rating ON books (rating);
CREATE INDEX IF NOT EXISTS idx_books_created_at ON books (created_at);
CREATE INDEX IF NOT EXISTS idx_books_owner_id_created_at ON books (owner_id, created_at);

CREATE TABLE IF NOT EXISTS crawl_sessions (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	ended_at      TIMESTAMP NOT NULL,
	pages_crawled INTEGER NOT NULL,
	books_found   INTEGER NOT NULL,
	reviews_found INTEGER NOT NULL,
	new_books     INTEGER NOT NULL,
	updated_books INTEGER NOT NULL,
	failed_pages  TEXT NOT NULL DEFAULT '[]',
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_crawl_sessions_owner_id ON crawl_sessions (owner_id);
CREATE INDEX IF NOT EXISTS idx_crawl_sessions_status ON crawl_sessions (status);

CREATE TABLE IF NOT EXISTS owner_profiles (
	owner_id      TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	last_crawl_at TIMESTAMP
);
`

// Store is the SQLite-backed record store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// SQLite allows one writer; a single connection serializes concurrent
	// upserts instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("record store opened", slog.String("path", path))
	return s, nil
}

// New wraps an existing connection without applying the schema.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates tables and indexes when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}
