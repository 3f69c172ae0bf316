package types

import "time"

// SyncStatus is the reconciliation state of a ledger entry.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// SyncRecord is one row of the sync ledger. There is at most one record per
// (TableName, RecordID) and records are never deleted.
type SyncRecord struct {
	TableName     string     `json:"table_name" yaml:"table_name"`
	RecordID      int64      `json:"record_id" yaml:"record_id"`
	Status        SyncStatus `json:"sync_status" yaml:"sync_status"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Retryable reports whether a sweep should attempt this record again.
func (r *SyncRecord) Retryable() bool {
	return r.Status == SyncFailed
}
