package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// MarkPending creates the ledger entry for (table, id) or resets an
// existing one to PENDING, clearing the last error.
func (db *DB) MarkPending(ctx context.Context, table string, id int64) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		return db.markPendingTx(ctx, tx, table, id)
	})
}

func (db *DB) markPendingTx(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	now := db.now()
	_, err := tx.ExecContext(ctx, `
	INSERT INTO cloud_sync (table_name, record_id, sync_status, created_at, updated_at)
	VALUES (?, ?, 'PENDING', ?, ?)
	ON CONFLICT(table_name, record_id) DO UPDATE SET
		sync_status = 'PENDING',
		error_message = NULL,
		updated_at = excluded.updated_at`,
		table, id, now, now)
	if err != nil {
		return fmt.Errorf("failed to mark %s #%d pending: %w", table, id, err)
	}
	return nil
}

// requeueTx resets an existing ledger entry to PENDING. Rows that were never
// tracked stay untracked.
func (db *DB) requeueTx(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE cloud_sync SET
		sync_status = 'PENDING',
		error_message = NULL,
		updated_at = ?
	WHERE table_name = ? AND record_id = ?`,
		db.now(), table, id)
	if err != nil {
		return fmt.Errorf("failed to requeue %s #%d: %w", table, id, err)
	}
	return nil
}

// MarkSynced records a successful push.
func (db *DB) MarkSynced(ctx context.Context, table string, id int64) error {
	return db.recordAttempt(ctx, table, id, types.SyncSynced, sql.NullString{})
}

// MarkSyncedIfUnchanged marks (table, id) SYNCED only if the entry has not
// been touched since observed, its UpdatedAt when the push was read. It
// reports false when the record was re-marked PENDING in the meantime.
func (db *DB) MarkSyncedIfUnchanged(ctx context.Context, table string, id int64, observed time.Time) (bool, error) {
	var applied bool
	err := db.write(ctx, func(tx *sql.Tx) error {
		now := db.now()
		res, err := tx.ExecContext(ctx, `
		UPDATE cloud_sync SET
			sync_status = 'SYNCED',
			last_attempt_at = ?,
			error_message = NULL,
			updated_at = ?
		WHERE table_name = ? AND record_id = ? AND updated_at = ?`,
			now, now, table, id, observed.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to mark %s #%d synced: %w", table, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// MarkFailed records a failed push with its error message.
func (db *DB) MarkFailed(ctx context.Context, table string, id int64, message string) error {
	return db.recordAttempt(ctx, table, id, types.SyncFailed, sql.NullString{String: message, Valid: true})
}

func (db *DB) recordAttempt(ctx context.Context, table string, id int64, status types.SyncStatus, message sql.NullString) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		now := db.now()
		_, err := tx.ExecContext(ctx, `
		INSERT INTO cloud_sync (table_name, record_id, sync_status, last_attempt_at, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			sync_status = excluded.sync_status,
			last_attempt_at = excluded.last_attempt_at,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
			table, id, string(status), now, message, now, now)
		if err != nil {
			return fmt.Errorf("failed to mark %s #%d %s: %w", table, id, status, err)
		}
		return nil
	})
}

// GetSyncRecord returns the ledger entry for (table, id) or types.ErrNotFound.
func (db *DB) GetSyncRecord(ctx context.Context, table string, id int64) (*types.SyncRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT table_name, record_id, sync_status, last_attempt_at, error_message, updated_at
	FROM cloud_sync WHERE table_name = ? AND record_id = ?`, table, id)
	rec, err := scanSyncRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync record %s #%d: %w", table, id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record %s #%d: %w", table, id, err)
	}
	return rec, nil
}

// ListSyncRecords returns ledger entries with the given status, oldest
// update first. limit <= 0 means no limit.
func (db *DB) ListSyncRecords(ctx context.Context, status types.SyncStatus, limit int) ([]*types.SyncRecord, error) {
	query := `
	SELECT table_name, record_id, sync_status, last_attempt_at, error_message, updated_at
	FROM cloud_sync WHERE sync_status = ?
	ORDER BY updated_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sync records: %w", status, err)
	}
	defer rows.Close()

	records := []*types.SyncRecord{}
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync records: %w", err)
	}
	return records, nil
}

// CountSyncRecords returns the number of ledger entries per status.
func (db *DB) CountSyncRecords(ctx context.Context) (map[types.SyncStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM cloud_sync GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync records: %w", err)
	}
	defer rows.Close()

	counts := map[types.SyncStatus]int{
		types.SyncPending: 0,
		types.SyncSynced:  0,
		types.SyncFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync count: %w", err)
		}
		counts[types.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync counts: %w", err)
	}
	return counts, nil
}

func scanSyncRecord(row rowScanner) (*types.SyncRecord, error) {
	var (
		rec         types.SyncRecord
		status      string
		lastAttempt sql.NullString
		message     sql.NullString
		updatedAt   string
	)
	if err := row.Scan(&rec.TableName, &rec.RecordID, &status, &lastAttempt, &message, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = types.SyncStatus(status)
	rec.LastAttemptAt = nullStringToTime(lastAttempt)
	rec.ErrorMessage = message.String
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
