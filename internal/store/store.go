// Package store implements the core's single relational store: an
// embedded, file-backed SQLite database holding users, pending message
// references, captured messages, the message archive, and per-channel
// memory state. WAL journaling and foreign keys are enabled so archival
// moves stay consistent; the pool holds a single open connection, so
// queries run one at a time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

const userCacheSize = 512

// Store is the core's embedded relational store.
type Store struct {
	db       *sql.DB
	reporter telemetry.ErrorReporter

	createMu sync.Mutex // guards lazy schema creation, not per-query access

	userCache *lru.Cache[string, *User]
}

// Open creates (if needed) and opens the SQLite database at path, enables
// WAL journaling, foreign keys, and synchronous=NORMAL, then runs schema
// migrations.
func Open(path string, reporter telemetry.ErrorReporter) (*Store, error) {
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		url.PathEscape(path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite allows only one writer; serialize at the pool level so
	// "database is locked" never surfaces to callers under WAL.
	db.SetMaxOpenConns(1)

	cache, err := lru.New[string, *User](userCacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: init user cache: %w", err)
	}

	s := &Store{db: db, reporter: reporter, userCache: cache}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			display_names_json TEXT NOT NULL DEFAULT '[]',
			procedural_memory TEXT NOT NULL DEFAULT '',
			background TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			timestamp_seconds INTEGER NOT NULL,
			processed_flag INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_processed ON pending_messages(processed_flag, id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp_seconds INTEGER NOT NULL,
			reactions_json TEXT NOT NULL DEFAULT '[]',
			vectorized INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unvectorized ON messages(vectorized)`,
		`CREATE TABLE IF NOT EXISTS message_archive (
			message_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp_seconds INTEGER NOT NULL,
			reactions_json TEXT NOT NULL DEFAULT '[]',
			vectorized INTEGER NOT NULL DEFAULT 0,
			archived_at_seconds INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_memory_state (
			channel_id TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			start_message_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS config_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return s.migrateVectorizedColumn(ctx)
}

// migrateVectorizedColumn adds the vectorized column to a pre-existing
// messages table (from an earlier schema version) that lacks it.
func (s *Store) migrateVectorizedColumn(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(messages)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasColumn := false
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == "vectorized" {
			hasColumn = true
		}
	}
	if hasColumn {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN vectorized INTEGER NOT NULL DEFAULT 0`)
	return err
}

// snapshotSchema captures table names for diagnostic context when a
// transaction fails unexpectedly, reported asynchronously rather than
// blocking the caller on the failure path.
func (s *Store) snapshotSchema(ctx context.Context) map[string]any {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table'`)
	if err != nil {
		return map[string]any{"snapshot_error": err.Error()}
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tables = append(tables, name)
		}
	}
	return map[string]any{"tables": tables}
}

func (s *Store) reportTxFailure(ctx context.Context, op string, err error) {
	s.reporter.ReportError("store", fmt.Errorf("%s: %w", op, err), s.snapshotSchema(ctx))
}
