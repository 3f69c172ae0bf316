package cloudsync

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// SQLWriter upserts records into a synced_records table over database/sql.
// In production the connection is a libSQL database opened by OpenLibSQL.
type SQLWriter struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenLibSQL connects to the libSQL database at dbURL, e.g.
// "libsql://frontdesk-acme.turso.io", and ensures the schema exists.
func OpenLibSQL(ctx context.Context, dbURL, authToken string) (*SQLWriter, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%w: cloud.url is not set", types.ErrConfigurationMissing)
	}
	dsn := dbURL
	if authToken != "" {
		u, err := url.Parse(dbURL)
		if err != nil {
			return nil, fmt.Errorf("invalid cloud url: %w", err)
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cloud store: %w", err)
	}
	w, err := NewSQLWriter(ctx, db, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// NewSQLWriter wraps an open connection and creates the synced_records
// table if needed. A nil clock means the real clock.
func NewSQLWriter(ctx context.Context, db *sql.DB, c clock.Clock) (*SQLWriter, error) {
	if c == nil {
		c = clock.Real()
	}
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS synced_records (
		table_name TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		batch_id TEXT,
		synced_at TEXT NOT NULL,
		PRIMARY KEY (table_name, record_id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create synced_records: %w", types.ErrSyncFailure, err)
	}
	return &SQLWriter{db: db, clock: c}, nil
}

// Upsert implements CloudWriter.Upsert.
func (w *SQLWriter) Upsert(ctx context.Context, r Record) error {
	_, err := w.db.ExecContext(ctx, `
	INSERT INTO synced_records (table_name, record_id, payload, batch_id, synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(table_name, record_id) DO UPDATE SET
		payload = excluded.payload,
		batch_id = excluded.batch_id,
		synced_at = excluded.synced_at`,
		r.Table, r.ID, string(r.Payload), r.BatchID, w.clock.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: upsert %s #%d: %w", types.ErrSyncFailure, r.Table, r.ID, err)
	}
	return nil
}

// Count returns the number of records stored for table.
func (w *SQLWriter) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM synced_records WHERE table_name = ?`, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count synced %s: %w", table, err)
	}
	return n, nil
}

// Close implements CloudWriter.Close.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}

