package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// InsertCheckIn appends a check-in and marks it PENDING for cloud sync.
// A zero Timestamp defaults to the store clock.
func (db *DB) InsertCheckIn(ctx context.Context, c *types.CheckIn) (int64, error) {
	if c.MemberID == "" {
		return 0, fmt.Errorf("check-in requires a member id")
	}
	if c.Source == "" {
		c.Source = "desk"
	}
	ts := db.now()
	if !c.Timestamp.IsZero() {
		ts = c.Timestamp.UTC().Format(timeLayout)
	}
	return db.insertSynced(ctx, types.TableCheckIns,
		`INSERT INTO check_ins (member_id, member_name, source, timestamp) VALUES (?, ?, ?, ?)`,
		c.MemberID, c.MemberName, c.Source, ts)
}

// InsertIncident appends an incident report.
func (db *DB) InsertIncident(ctx context.Context, i *types.Incident) (int64, error) {
	if i.Description == "" {
		return 0, fmt.Errorf("incident requires a description")
	}
	if i.Severity == "" {
		i.Severity = "low"
	}
	return db.insertSynced(ctx, types.TableIncidents,
		`INSERT INTO incidents (member_id, severity, description, reported_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		i.MemberID, i.Severity, i.Description, i.ReportedBy, db.now())
}

// InsertAnnouncement appends a staff announcement.
func (db *DB) InsertAnnouncement(ctx context.Context, a *types.Announcement) (int64, error) {
	if a.Title == "" {
		return 0, fmt.Errorf("announcement requires a title")
	}
	return db.insertSynced(ctx, types.TableAnnouncements,
		`INSERT INTO announcements (title, body, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		a.Title, a.Body, timeToNullString(a.ExpiresAt), db.now())
}

// InsertKnowledgeBaseEntry appends a knowledge-base entry.
func (db *DB) InsertKnowledgeBaseEntry(ctx context.Context, e *types.KnowledgeBaseEntry) (int64, error) {
	if e.Question == "" || e.Answer == "" {
		return 0, fmt.Errorf("knowledge base entry requires a question and an answer")
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return db.insertSynced(ctx, types.TableKnowledgeBase,
		`INSERT INTO knowledge_base (question, answer, tags, created_at) VALUES (?, ?, ?, ?)`,
		e.Question, e.Answer, string(tags), db.now())
}

// insertSynced runs an INSERT and records the new row as PENDING in the
// ledger within one transaction.
func (db *DB) insertSynced(ctx context.Context, table, query string, args ...any) (int64, error) {
	var id int64
	err := db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read %s id: %w", table, err)
		}
		return db.markPendingTx(ctx, tx, table, id)
	})
	return id, err
}

// ListCheckIns returns check-ins at or after since, newest first. A zero
// since returns everything; limit <= 0 means no limit.
func (db *DB) ListCheckIns(ctx context.Context, since time.Time, limit int) ([]*types.CheckIn, error) {
	query := `SELECT id, member_id, member_name, source, timestamp FROM check_ins`
	var args []any
	if !since.IsZero() {
		query += ` WHERE timestamp >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var checkIns []*types.CheckIn
	for rows.Next() {
		var c types.CheckIn
		var ts string
		if err := rows.Scan(&c.ID, &c.MemberID, &c.MemberName, &c.Source, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		c.Timestamp = parseTime(ts)
		checkIns = append(checkIns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-ins: %w", err)
	}
	return checkIns, nil
}

// RecordPayload returns one row of a cloud-mirrored table as a JSON object
// keyed by column name. It is what the sync sweeper pushes to the cloud.
func (db *DB) RecordPayload(ctx context.Context, table string, id int64) ([]byte, error) {
	if !types.IsSyncedTable(table) {
		return nil, fmt.Errorf("table %q is not cloud-mirrored", table)
	}

	// table is one of the fixed names checked above.
	rows, err := db.conn.QueryContext(ctx, `SELECT * FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s #%d: %w", table, id, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s #%d: %w", table, id, err)
		}
		return nil, fmt.Errorf("%s #%d: %w", table, id, types.ErrNotFound)
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		return nil, fmt.Errorf("failed to scan %s #%d: %w", table, id, err)
	}

	record := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
			continue
		}
		record[col] = values[i]
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s #%d: %w", table, id, err)
	}
	return payload, nil
}
