package cloudsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-ops/frontdesk/internal/cache"
	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var testEpoch = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func openCache(t *testing.T) (*cache.DB, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.WithClock(fake))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, fake
}

// openCloud stands in for the libSQL store with a local SQLite file; the
// schema and upsert are plain SQLite either way.
func openCloud(t *testing.T) *SQLWriter {
	t.Helper()
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "cloud.db")))
	require.NoError(t, err)
	w, err := NewSQLWriter(context.Background(), conn, clock.Fake(testEpoch))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// flakyWriter fails while err is set and can run a hook before each write.
type flakyWriter struct {
	mu     sync.Mutex
	err    error
	writes []Record
	before func(Record)
}

func (w *flakyWriter) Upsert(_ context.Context, r Record) error {
	w.mu.Lock()
	before, err := w.before, w.err
	w.mu.Unlock()
	if before != nil {
		before(r)
	}
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.writes = append(w.writes, r)
	w.mu.Unlock()
	return nil
}

func (w *flakyWriter) Close() error { return nil }

func TestTracker_FailedThenSynced(t *testing.T) {
	db, _ := openCache(t)
	tr := NewTracker(db, logging.Discard())
	ctx := context.Background()

	require.NoError(t, tr.MarkFailed(ctx, "members", 42, "timeout"))
	retryable, err := tr.ListRetryable(ctx)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "members", retryable[0].TableName)
	assert.Equal(t, int64(42), retryable[0].RecordID)
	assert.Equal(t, "timeout", retryable[0].ErrorMessage)

	require.NoError(t, tr.MarkSynced(ctx, "members", 42))
	retryable, err = tr.ListRetryable(ctx)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	counts, err := tr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.SyncSynced])
}

func TestTracker_RejectsUnknownTable(t *testing.T) {
	db, _ := openCache(t)
	tr := NewTracker(db, logging.Discard())

	assert.Error(t, tr.MarkPending(context.Background(), "cloud_sync", 1))
	assert.Error(t, tr.MarkFailed(context.Background(), "sqlite_master", 1, "x"))
}

func TestSweepOnce_PushesPendingRecords(t *testing.T) {
	db, _ := openCache(t)
	cloud := openCloud(t)
	ctx := context.Background()

	_, err := db.InsertCheckIn(ctx, &types.CheckIn{MemberName: "Walk-in"})
	require.NoError(t, err)
	_, err = db.CreateLocalMember(ctx, &types.Member{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)

	var reported []SweepResult
	s := NewSweeper(db, db, cloud, SweeperConfig{
		Logger:  logging.Discard(),
		OnSweep: func(r SweepResult) { reported = append(reported, r) },
	})
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	require.Len(t, reported, 1)
	assert.Equal(t, res.BatchID, reported[0].BatchID)
	assert.Equal(t, 2, res.Synced)
	assert.NotEmpty(t, res.BatchID)

	n, err := cloud.Count(ctx, types.TableCheckIns)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.Tracker().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.SyncSynced])
	assert.Zero(t, counts[types.SyncPending])

	res, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Len(t, reported, 1)
}

func TestSweepOnce_RetryDoesNotDuplicate(t *testing.T) {
	db, fake := openCache(t)
	cloud := openCloud(t)
	ctx := context.Background()

	id, err := db.InsertIncident(ctx, &types.Incident{Description: "wet floor near pool"})
	require.NoError(t, err)

	s := NewSweeper(db, db, cloud, SweeperConfig{Logger: logging.Discard()})
	_, err = s.SweepOnce(ctx)
	require.NoError(t, err)

	fake.Advance(time.Minute)
	require.NoError(t, db.MarkPending(ctx, types.TableIncidents, id))
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	n, err := cloud.Count(ctx, types.TableIncidents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepOnce_FailureIsRetried(t *testing.T) {
	db, _ := openCache(t)
	ctx := context.Background()

	id, err := db.InsertAnnouncement(ctx, &types.Announcement{Title: "Pool closed", Body: "Maintenance until noon"})
	require.NoError(t, err)

	writer := &flakyWriter{err: fmt.Errorf("%w: connection reset", types.ErrSyncFailure)}
	s := NewSweeper(db, db, writer, SweeperConfig{Logger: logging.Discard()})

	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec, err := db.GetSyncRecord(ctx, types.TableAnnouncements, id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "connection reset")

	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()

	res, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	retryable, err := s.Tracker().ListRetryable(ctx)
	require.NoError(t, err)
	assert.Empty(t, retryable)
	require.Len(t, writer.writes, 1)
	assert.Equal(t, types.TableAnnouncements, writer.writes[0].Table)
	assert.Contains(t, string(writer.writes[0].Payload), "Pool closed")
}

func TestSweepOnce_MissingLocalRecordFails(t *testing.T) {
	db, _ := openCache(t)
	ctx := context.Background()
	require.NoError(t, db.MarkPending(ctx, types.TableKnowledgeBase, 99))

	s := NewSweeper(db, db, &flakyWriter{}, SweeperConfig{Logger: logging.Discard()})
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec, err := db.GetSyncRecord(ctx, types.TableKnowledgeBase, 99)
	require.NoError(t, err)
	assert.Equal(t, types.SyncFailed, rec.Status)
}

func TestSweepOnce_LocalChangeDuringPushStaysPending(t *testing.T) {
	db, fake := openCache(t)
	ctx := context.Background()
	id, err := db.InsertCheckIn(ctx, &types.CheckIn{MemberName: "Grace Hopper"})
	require.NoError(t, err)

	writer := &flakyWriter{}
	writer.before = func(r Record) {
		fake.Advance(time.Second)
		require.NoError(t, db.MarkPending(ctx, r.Table, r.ID))
	}
	s := NewSweeper(db, db, writer, SweeperConfig{Logger: logging.Discard()})

	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Superseded)
	assert.Zero(t, res.Synced)

	rec, err := db.GetSyncRecord(ctx, types.TableCheckIns, id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncPending, rec.Status)
}

func TestSweepOnce_RejectsConcurrentSweep(t *testing.T) {
	db, _ := openCache(t)
	ctx := context.Background()
	_, err := db.InsertCheckIn(ctx, &types.CheckIn{MemberName: "Walk-in"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	writer := &flakyWriter{}
	writer.before = func(Record) {
		close(entered)
		<-release
	}
	s := NewSweeper(db, db, writer, SweeperConfig{Logger: logging.Discard()})

	done := make(chan error, 1)
	go func() {
		_, err := s.SweepOnce(ctx)
		done <- err
	}()
	<-entered

	_, err = s.SweepOnce(ctx)
	assert.True(t, errors.Is(err, ErrSweepInProgress))

	close(release)
	require.NoError(t, <-done)
}

func TestSweeper_StartStop(t *testing.T) {
	db, _ := openCache(t)

	bad := NewSweeper(db, db, &flakyWriter{}, SweeperConfig{Schedule: "every tuesday", Logger: logging.Discard()})
	assert.Error(t, bad.Start())

	s := NewSweeper(db, db, &flakyWriter{}, SweeperConfig{Logger: logging.Discard()})
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()
}
