// Package health tracks the liveness of frontdesk's backends.
//
// Each backend moves UNKNOWN -> CONNECTING -> CONNECTED|DISCONNECTED and
// never returns to UNKNOWN. Probes run concurrently, once at start and then
// on every tick; a slow probe delays only its own backend. Subscribers see
// a StateChange only when a backend's settled status actually changes.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/scanner"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// Probe checks one backend. A nil error means CONNECTED.
type Probe interface {
	Backend() types.BackendID
	Check(ctx context.Context) error
}

// Config holds configuration for the monitor.
type Config struct {
	// Interval between probe rounds.
	Interval time.Duration

	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration

	// EventBuffer is the channel size handed to each subscriber. Events
	// for a subscriber whose buffer is full are dropped.
	EventBuffer int

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ProbeTimeout: 10 * time.Second,
		EventBuffer:  32,
	}
}

// Monitor runs probes and owns the per-backend connection state.
type Monitor struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	order  []types.BackendID
	probes map[types.BackendID]Probe

	mu          sync.RWMutex
	states      map[types.BackendID]*types.ConnectionState
	settled     map[types.BackendID]types.ConnectionStatus
	inflight    map[types.BackendID]bool
	lastChecked time.Time

	subsMu     sync.Mutex
	subs       map[int]chan types.StateChange
	nextSub    int
	subsClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Monitor for probes. Probes are reported in the order given.
func New(probes []Probe, cfg Config) (*Monitor, error) {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logging.Component(cfg.Logger, "health"),
		probes:   make(map[types.BackendID]Probe, len(probes)),
		states:   make(map[types.BackendID]*types.ConnectionState, len(probes)),
		settled:  make(map[types.BackendID]types.ConnectionStatus, len(probes)),
		inflight: make(map[types.BackendID]bool, len(probes)),
		subs:     make(map[int]chan types.StateChange),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, p := range probes {
		id := p.Backend()
		if _, dup := m.probes[id]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate probe for backend %s", id)
		}
		m.order = append(m.order, id)
		m.probes[id] = p
		m.states[id] = &types.ConnectionState{Backend: id, Status: types.ConnUnknown}
		m.settled[id] = types.ConnUnknown
	}
	return m, nil
}

// Start runs one probe round immediately and then one per interval, in the
// background. Calling Start more than once has no further effect.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.logger.Info("starting health monitor", "backends", len(m.order), "interval", m.cfg.Interval)
		m.wg.Add(1)
		go m.loop()
	})
}

// Run starts the monitor and blocks until ctx is cancelled, then stops it.
func (m *Monitor) Run(ctx context.Context) {
	m.Start()
	select {
	case <-ctx.Done():
	case <-m.ctx.Done():
	}
	m.Stop()
}

// Stop cancels in-flight probes, waits for them and closes all subscriber
// channels. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()

		m.subsMu.Lock()
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
		m.subsClosed = true
		m.subsMu.Unlock()
		m.logger.Info("health monitor stopped")
	})
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.spawnRound()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.spawnRound()
		}
	}
}

// spawnRound starts a round without waiting for it, so that a slow probe
// never delays the next tick.
func (m *Monitor) spawnRound() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runRound(m.ctx)
	}()
}

// CheckNow runs one full probe round and returns when it completes. Probes
// already in flight from an earlier round are not started again.
func (m *Monitor) CheckNow(ctx context.Context) {
	ctx, cancel := m.joinContext(ctx)
	defer cancel()
	m.runRound(ctx)
}

// CheckBackend probes a single backend now. It does not count as a round.
func (m *Monitor) CheckBackend(ctx context.Context, id types.BackendID) error {
	p, ok := m.probes[id]
	if !ok {
		return fmt.Errorf("%w: backend %s", types.ErrNotFound, id)
	}
	ctx, cancel := m.joinContext(ctx)
	defer cancel()
	m.probe(ctx, p)
	return nil
}

// joinContext returns a context cancelled by either ctx or Stop.
func (m *Monitor) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (m *Monitor) runRound(ctx context.Context) {
	var g errgroup.Group
	for _, id := range m.order {
		p := m.probes[id]
		g.Go(func() error {
			m.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	m.lastChecked = m.clock.Now()
	m.mu.Unlock()
}

// probe runs p unless a probe for the same backend is already running, and
// applies the outcome as soon as it is known.
func (m *Monitor) probe(ctx context.Context, p Probe) {
	id := p.Backend()

	m.mu.Lock()
	if m.inflight[id] {
		m.mu.Unlock()
		m.logger.Debug("probe still running, skipping", "backend", id)
		return
	}
	m.inflight[id] = true
	state := m.states[id]
	if state.Status == types.ConnUnknown {
		state.Status = types.ConnConnecting
		state.LastTransitionAt = m.clock.Now()
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := p.Check(probeCtx)
	cancel()

	// A probe cut short by Stop says nothing about the backend.
	if ctx.Err() != nil {
		return
	}
	m.apply(id, err)
}

func (m *Monitor) apply(id types.BackendID, err error) {
	status := types.ConnConnected
	errText := ""
	if err != nil {
		status = types.ConnDisconnected
		errText = err.Error()
	}
	now := m.clock.Now()

	m.mu.Lock()
	state := m.states[id]
	if state.Status != status {
		state.Status = status
		state.LastTransitionAt = now
	}
	state.LastError = errText
	old := m.settled[id]
	m.settled[id] = status
	m.mu.Unlock()

	if old == status {
		return
	}
	if err != nil {
		m.logger.Warn("backend disconnected", "backend", id, "previous", old, "error", err)
	} else {
		m.logger.Info("backend connected", "backend", id, "previous", old)
	}
	m.publish(types.StateChange{Backend: id, OldStatus: old, NewStatus: status, Timestamp: now})
}

// Subscribe returns a channel of state changes and a function that
// unsubscribes. The channel is closed on unsubscribe or Stop.
func (m *Monitor) Subscribe() (<-chan types.StateChange, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	ch := make(chan types.StateChange, m.cfg.EventBuffer)
	if m.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Monitor) publish(change types.StateChange) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
			m.logger.Warn("subscriber buffer full, dropping event", "backend", change.Backend)
		}
	}
}

// Snapshot returns the current state of every backend in probe order.
func (m *Monitor) Snapshot() []types.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ConnectionState, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.states[id])
	}
	return out
}

// State returns the current state of one backend.
func (m *Monitor) State(id types.BackendID) (types.ConnectionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return types.ConnectionState{}, false
	}
	return *s, true
}

// LastChecked returns when the most recent full round completed, or the
// zero time before the first one.
func (m *Monitor) LastChecked() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChecked
}

// FollowScanner re-probes SCANNER_EXPORT whenever the export directory
// appears or disappears, or a file for today lands in it. It returns when
// ctx is done or events is closed.
func (m *Monitor) FollowScanner(ctx context.Context, events <-chan scanner.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.DirEvent && !scanner.IsExportFileFor(ev.Path, m.clock.Now()) {
				continue
			}
			m.logger.Debug("scanner export changed", "path", ev.Path, "op", ev.Op)
			_ = m.CheckBackend(ctx, types.BackendScannerExport)
		}
	}
}
