// Package cloudsync reconciles locally created records with the cloud
// store.
//
// Every local write to a mirrored table leaves a ledger entry in the cache.
// The Sweeper pushes PENDING and FAILED entries to the cloud and records
// the outcome through the Tracker. Pushes are upserts keyed by table and
// record id, so retrying a record never duplicates it.
package cloudsync

import (
	"context"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// Tracker records the outcome of pushing local writes to the cloud store.
type Tracker interface {
	// MarkPending records that (table, id) changed locally and needs a
	// push. A SYNCED entry goes back to PENDING.
	MarkPending(ctx context.Context, table string, id int64) error

	// MarkSynced records a successful push.
	//
	// Example:
	//   err := tracker.MarkSynced(ctx, "members", 42)
	MarkSynced(ctx context.Context, table string, id int64) error

	// MarkFailed records a failed push. The entry stays retryable until a
	// later push succeeds.
	//
	// Example:
	//   err := tracker.MarkFailed(ctx, "members", 42, "timeout")
	MarkFailed(ctx context.Context, table string, id int64, message string) error

	// ListRetryable returns every FAILED entry.
	ListRetryable(ctx context.Context) ([]*types.SyncRecord, error)

	// ListPending returns every PENDING entry.
	ListPending(ctx context.Context) ([]*types.SyncRecord, error)

	// Counts returns the number of entries per status.
	Counts(ctx context.Context) (map[types.SyncStatus]int, error)
}

// Record is one row pushed to the cloud store.
type Record struct {
	Table   string
	ID      int64
	Payload []byte
	// BatchID groups the records pushed by one sweep.
	BatchID string
}

// CloudWriter upserts records into the cloud store.
type CloudWriter interface {
	// Upsert writes r, replacing any earlier copy of the same (Table, ID).
	Upsert(ctx context.Context, r Record) error

	Close() error
}
