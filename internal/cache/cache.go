// Package cache is the local persistent store backing offline-first
// operation.
//
// The store is an embedded SQLite database in WAL mode: readers proceed
// concurrently while writes are serialized through a single writer lock,
// so concurrent upserts resolve last-write-wins in completion order.
//
// Tables:
//   - members: identity records keyed by the remote directory's external id
//   - check_ins, incidents, announcements, knowledge_base: append-only logs
//   - cloud_sync: the sync ledger for cloud-mirrored tables
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/types"
	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/ext/unicode"
)

// timeLayout is used for every timestamp column. It is fixed width, always
// UTC, so that text comparison and ORDER BY agree with time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite connection with the frontdesk schema.
type DB struct {
	conn  *sql.DB
	path  string
	clock clock.Clock

	// writeMu admits one writer at a time.
	writeMu sync.Mutex
}

// Option customizes Open.
type Option func(*DB)

// WithClock overrides the clock used for last_synced_at and ledger
// timestamps.
func WithClock(c clock.Clock) Option {
	return func(db *DB) { db.clock = c }
}

// Open creates or opens the cache database at path and ensures the schema
// exists. The caller MUST call Close() when done.
//
// Example:
//
//	store, err := cache.Open("~/.frontdesk/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Unicode-aware lower() and LIKE, so member search folds "É" like "E".
	conn, err := driver.Open(fmt.Sprintf("file:%s", path), unicode.Register)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:  conn,
		path:  path,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(db)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection. Safe to call twice.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	db.conn = nil
	return nil
}

// Ping runs a trivial liveness query.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("cache is closed")
	}
	var one int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("cache liveness query failed: %w", err)
	}
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT UNIQUE,  -- NULL until reconciled with the remote directory
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		membership_status TEXT NOT NULL DEFAULT 'UNKNOWN',
		membership_expiry TEXT,
		last_synced_at TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now'))
	);

	CREATE TABLE IF NOT EXISTS check_ins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id TEXT NOT NULL,
		member_name TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'desk',
		timestamp TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now'))
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'low',
		description TEXT NOT NULL,
		reported_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now'))
	);

	CREATE TABLE IF NOT EXISTS announcements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		expires_at TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now'))
	);

	CREATE TABLE IF NOT EXISTS knowledge_base (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		tags TEXT,  -- JSON array
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now'))
	);

	CREATE TABLE IF NOT EXISTS cloud_sync (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'PENDING',
		last_attempt_at TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now')),
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f000000Z', 'now')),
		UNIQUE (table_name, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_last_name ON members(last_name);
	CREATE INDEX IF NOT EXISTS idx_members_email ON members(email);
	CREATE INDEX IF NOT EXISTS idx_check_ins_timestamp ON check_ins(timestamp);
	CREATE INDEX IF NOT EXISTS idx_check_ins_member ON check_ins(member_id);
	CREATE INDEX IF NOT EXISTS idx_cloud_sync_status ON cloud_sync(sync_status);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// write runs fn inside a transaction while holding the writer lock.
// Failures are marked with types.ErrStoreWrite while keeping the driver
// error in the chain.
func (db *DB) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.conn == nil {
		return fmt.Errorf("%w: cache is closed", types.ErrStoreWrite)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", types.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", types.ErrStoreWrite, err)
	}
	return nil
}

func (db *DB) now() string {
	return db.clock.Now().UTC().Format(timeLayout)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
