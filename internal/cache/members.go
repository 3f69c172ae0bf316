package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// UpsertResult reports the outcome of UpsertMember.
type UpsertResult struct {
	ID      int64
	Created bool
}

const memberColumns = `id, external_id, first_name, last_name, email, phone,
	membership_status, membership_expiry, last_synced_at`

// UpsertMember writes a full member snapshot keyed by ExternalID.
//
// An existing row is fully overwritten and its last_synced_at bumped; if
// the row is tracked in the sync ledger it goes back to PENDING. Otherwise
// a new row is inserted. An empty status is stored as UNKNOWN. The lookup and write happen in one
// transaction under the writer lock.
func (db *DB) UpsertMember(ctx context.Context, m *types.Member) (UpsertResult, error) {
	if m.ExternalID == "" {
		return UpsertResult{}, fmt.Errorf("upsert requires an external id")
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = types.StatusUnknown
	}
	if err := m.ValidateSnapshot(); err != nil {
		return UpsertResult{}, fmt.Errorf("invalid member %s: %w", m.ExternalID, err)
	}

	var result UpsertResult
	err := db.write(ctx, func(tx *sql.Tx) error {
		syncedAt := db.now()

		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM members WHERE external_id = ?`, m.ExternalID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
			INSERT INTO members (
				external_id, first_name, last_name, email, phone,
				membership_status, membership_expiry, last_synced_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ExternalID, m.FirstName, m.LastName, m.Email, m.Phone,
				string(m.MembershipStatus), timeToNullString(m.MembershipExpiry), syncedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert member %s: %w", m.ExternalID, err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read member id: %w", err)
			}
			result = UpsertResult{ID: id, Created: true}
			return nil

		case err != nil:
			return fmt.Errorf("failed to look up member %s: %w", m.ExternalID, err)
		}

		_, err = tx.ExecContext(ctx, `
		UPDATE members SET
			first_name = ?,
			last_name = ?,
			email = ?,
			phone = ?,
			membership_status = ?,
			membership_expiry = ?,
			last_synced_at = ?
		WHERE id = ?`,
			m.FirstName, m.LastName, m.Email, m.Phone,
			string(m.MembershipStatus), timeToNullString(m.MembershipExpiry), syncedAt,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to update member %s: %w", m.ExternalID, err)
		}
		result = UpsertResult{ID: id, Created: false}
		return db.requeueTx(ctx, tx, types.TableMembers, id)
	})
	return result, err
}

// CreateLocalMember inserts a member that has no external id yet and marks
// it PENDING in the sync ledger in the same transaction.
func (db *DB) CreateLocalMember(ctx context.Context, m *types.Member) (int64, error) {
	if m.ExternalID != "" {
		return 0, fmt.Errorf("local member must not carry an external id (got %s)", m.ExternalID)
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = types.StatusPending
	}
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("invalid member: %w", err)
	}

	var id int64
	err := db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		INSERT INTO members (
			external_id, first_name, last_name, email, phone,
			membership_status, membership_expiry, last_synced_at
		) VALUES (NULL, ?, ?, ?, ?, ?, ?, NULL)`,
			m.FirstName, m.LastName, m.Email, m.Phone,
			string(m.MembershipStatus), timeToNullString(m.MembershipExpiry),
		)
		if err != nil {
			return fmt.Errorf("failed to insert local member: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read member id: %w", err)
		}
		return db.markPendingTx(ctx, tx, types.TableMembers, id)
	})
	return id, err
}

// AttachExternalID reconciles a locally created member with the id the
// remote directory assigned to it. Only rows without an external id can be
// attached; the id is immutable afterwards. The member goes back to PENDING
// so the cloud copy picks up the id.
func (db *DB) AttachExternalID(ctx context.Context, localID int64, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("external id is required")
	}
	return db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		UPDATE members SET external_id = ?, last_synced_at = ?
		WHERE id = ? AND external_id IS NULL`, externalID, db.now(), localID)
		if err != nil {
			return fmt.Errorf("failed to attach external id %s to member %d: %w", externalID, localID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("member %d is not a local-only member", localID)
		}
		return db.markPendingTx(ctx, tx, types.TableMembers, localID)
	})
}

// GetMemberByExternalID returns the cached member or types.ErrNotFound.
func (db *DB) GetMemberByExternalID(ctx context.Context, externalID string) (*types.Member, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE external_id = ?`, externalID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", externalID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member %s: %w", externalID, err)
	}
	return m, nil
}

// GetMemberByLocalID returns a member by surrogate key or types.ErrNotFound.
func (db *DB) GetMemberByLocalID(ctx context.Context, id int64) (*types.Member, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member #%d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member #%d: %w", id, err)
	}
	return m, nil
}

// SearchMembers does a case-insensitive substring match over first name,
// last name, full name, email and phone. An empty term matches nothing.
func (db *DB) SearchMembers(ctx context.Context, term string) ([]*types.Member, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*types.Member{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"

	rows, err := db.conn.QueryContext(ctx, `
	SELECT `+memberColumns+`
	FROM members
	WHERE lower(first_name) LIKE ? ESCAPE '\'
	   OR lower(last_name) LIKE ? ESCAPE '\'
	   OR lower(first_name || ' ' || last_name) LIKE ? ESCAPE '\'
	   OR lower(email) LIKE ? ESCAPE '\'
	   OR lower(phone) LIKE ? ESCAPE '\'
	ORDER BY last_name ASC, first_name ASC, id ASC`, pattern, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search members: %w", err)
	}
	defer rows.Close()

	members := []*types.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// CountMembers returns the number of member rows.
func (db *DB) CountMembers(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM members").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*types.Member, error) {
	var (
		m          types.Member
		externalID sql.NullString
		status     string
		expiry     sql.NullString
		syncedAt   sql.NullString
	)
	err := row.Scan(
		&m.LocalID,
		&externalID,
		&m.FirstName,
		&m.LastName,
		&m.Email,
		&m.Phone,
		&status,
		&expiry,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ExternalID = externalID.String
	m.MembershipStatus = types.MembershipStatus(status)
	m.MembershipExpiry = nullStringToTime(expiry)
	if t := nullStringToTime(syncedAt); t != nil {
		m.LastSyncedAt = *t
	}
	return &m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
