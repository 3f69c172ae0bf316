package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// Ledger is the sync ledger storage. *cache.DB implements it.
type Ledger interface {
	MarkPending(ctx context.Context, table string, id int64) error
	MarkSynced(ctx context.Context, table string, id int64) error
	MarkSyncedIfUnchanged(ctx context.Context, table string, id int64, observed time.Time) (bool, error)
	MarkFailed(ctx context.Context, table string, id int64, message string) error
	ListSyncRecords(ctx context.Context, status types.SyncStatus, limit int) ([]*types.SyncRecord, error)
	CountSyncRecords(ctx context.Context) (map[types.SyncStatus]int, error)
}

// tracker implements Tracker on top of a Ledger.
type tracker struct {
	ledger Ledger
	logger *slog.Logger
}

// NewTracker creates a Tracker. If logger is nil, slog.Default() is used.
func NewTracker(ledger Ledger, logger *slog.Logger) Tracker {
	return &tracker{
		ledger: ledger,
		logger: logging.Component(logger, "cloudsync"),
	}
}

func checkTable(table string) error {
	if !types.IsSyncedTable(table) {
		return fmt.Errorf("table %q is not cloud-mirrored", table)
	}
	return nil
}

// MarkPending implements Tracker.MarkPending.
func (t *tracker) MarkPending(ctx context.Context, table string, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	return t.ledger.MarkPending(ctx, table, id)
}

// MarkSynced implements Tracker.MarkSynced.
func (t *tracker) MarkSynced(ctx context.Context, table string, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := t.ledger.MarkSynced(ctx, table, id); err != nil {
		return err
	}
	t.logger.Debug("record synced", "table", table, "id", id)
	return nil
}

// MarkFailed implements Tracker.MarkFailed.
func (t *tracker) MarkFailed(ctx context.Context, table string, id int64, message string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := t.ledger.MarkFailed(ctx, table, id, message); err != nil {
		return err
	}
	t.logger.Warn("record sync failed", "table", table, "id", id, "error", message)
	return nil
}

// ListRetryable implements Tracker.ListRetryable.
func (t *tracker) ListRetryable(ctx context.Context) ([]*types.SyncRecord, error) {
	return t.ledger.ListSyncRecords(ctx, types.SyncFailed, 0)
}

// ListPending implements Tracker.ListPending.
func (t *tracker) ListPending(ctx context.Context) ([]*types.SyncRecord, error) {
	return t.ledger.ListSyncRecords(ctx, types.SyncPending, 0)
}

// Counts implements Tracker.Counts.
func (t *tracker) Counts(ctx context.Context) (map[types.SyncStatus]int, error) {
	return t.ledger.CountSyncRecords(ctx)
}
