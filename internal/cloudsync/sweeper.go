package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// ErrSweepInProgress is returned by SweepOnce when another sweep is running.
var ErrSweepInProgress = errors.New("sync sweep already in progress")

// PayloadSource reads the current content of a local record.
// *cache.DB implements it.
type PayloadSource interface {
	RecordPayload(ctx context.Context, table string, id int64) ([]byte, error)
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	// Schedule is a cron spec such as "@every 5m".
	Schedule string

	// Timeout bounds one scheduled sweep.
	Timeout time.Duration

	// PushTimeout bounds one cloud upsert.
	PushTimeout time.Duration

	// OnSweep, when set, is called after every sweep that attempted at
	// least one record.
	OnSweep func(SweepResult)

	Logger *slog.Logger
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:    "@every 5m",
		Timeout:     2 * time.Minute,
		PushTimeout: 15 * time.Second,
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	BatchID   string
	Attempted int
	Synced    int
	Failed    int
	// Superseded counts records that changed locally during the push and
	// were left PENDING for the next sweep.
	Superseded int
}

// Sweeper pushes PENDING and FAILED ledger entries to the cloud store.
type Sweeper struct {
	ledger   Ledger
	tracker  Tracker
	payloads PayloadSource
	writer   CloudWriter
	cfg      SweeperConfig
	logger   *slog.Logger

	running sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a Sweeper. Zero fields in cfg take their defaults.
func NewSweeper(ledger Ledger, payloads PayloadSource, writer CloudWriter, cfg SweeperConfig) *Sweeper {
	defaults := DefaultSweeperConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaults.PushTimeout
	}
	return &Sweeper{
		ledger:   ledger,
		tracker:  NewTracker(ledger, cfg.Logger),
		payloads: payloads,
		writer:   writer,
		cfg:      cfg,
		logger:   logging.Component(cfg.Logger, "cloudsync"),
	}
}

// Tracker returns the tracker the sweeper records outcomes through.
func (s *Sweeper) Tracker() Tracker {
	return s.tracker
}

// SweepOnce pushes every PENDING and FAILED record once. Individual push
// failures are recorded in the ledger and do not stop the sweep; the
// returned error is non-nil only when the ledger itself cannot be read or
// written.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	if !s.running.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	result := SweepResult{BatchID: uuid.NewString()}

	pending, err := s.tracker.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list pending records: %w", err)
	}
	failed, err := s.tracker.ListRetryable(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list retryable records: %w", err)
	}
	records := append(pending, failed...)
	if len(records) == 0 {
		return result, nil
	}

	s.logger.Info("sync sweep started", "batch", result.BatchID, "pending", len(pending), "failed", len(failed))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++

		pushErr := s.push(ctx, rec, result.BatchID)
		if pushErr != nil {
			result.Failed++
			if err := s.tracker.MarkFailed(ctx, rec.TableName, rec.RecordID, pushErr.Error()); err != nil {
				return result, err
			}
			continue
		}

		applied, err := s.ledger.MarkSyncedIfUnchanged(ctx, rec.TableName, rec.RecordID, rec.UpdatedAt)
		if err != nil {
			return result, err
		}
		if !applied {
			result.Superseded++
			continue
		}
		result.Synced++
	}

	s.logger.Info("sync sweep finished",
		"batch", result.BatchID, "attempted", result.Attempted,
		"synced", result.Synced, "failed", result.Failed, "superseded", result.Superseded)
	if s.cfg.OnSweep != nil {
		s.cfg.OnSweep(result)
	}
	return result, nil
}

func (s *Sweeper) push(ctx context.Context, rec *types.SyncRecord, batchID string) error {
	payload, err := s.payloads.RecordPayload(ctx, rec.TableName, rec.RecordID)
	if err != nil {
		return fmt.Errorf("read local record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PushTimeout)
	defer cancel()
	return s.writer.Upsert(ctx, Record{
		Table:   rec.TableName,
		ID:      rec.RecordID,
		Payload: payload,
		BatchID: batchID,
	})
}

// Start schedules SweepOnce on cfg.Schedule. Calling Start twice is an
// error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.Error("scheduled sync sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sync sweeper scheduled", "schedule", s.cfg.Schedule)
	return nil
}

// Stop unschedules the sweeper and waits for a running sweep to finish.
// It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
