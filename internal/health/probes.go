package health

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/scanner"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// Pinger is anything with a cheap liveness check: *cache.DB,
// *remote.Client and *timeclock.Store all qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to a Probe.
type ProbeFunc struct {
	ID types.BackendID
	Fn func(ctx context.Context) error
}

func (p ProbeFunc) Backend() types.BackendID { return p.ID }

func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// Configurable reports whether a backend has the settings it needs.
type Configurable interface {
	Configured() bool
}

// RemoteProbe checks the remote directory. Missing credentials report
// DISCONNECTED without touching the network; otherwise the client
// authenticates if needed and issues its cheapest request.
func RemoteProbe(auth Configurable, client Pinger) Probe {
	return ProbeFunc{ID: types.BackendRemoteDirectory, Fn: func(ctx context.Context) error {
		if auth == nil || client == nil || !auth.Configured() {
			return fmt.Errorf("%w: remote directory credentials", types.ErrConfigurationMissing)
		}
		return client.Ping(ctx)
	}}
}

// CacheProbe runs the local cache's trivial liveness query.
func CacheProbe(db Pinger) Probe {
	return ProbeFunc{ID: types.BackendLocalCache, Fn: db.Ping}
}

// TimeClockProbe checks that the time-clock database exists and answers.
func TimeClockProbe(store Pinger) Probe {
	return ProbeFunc{ID: types.BackendTimeClockStore, Fn: store.Ping}
}

// ScannerProbe reports CONNECTED whenever the export directory exists.
// Today's files are enumerated for the log only; failing to list them is
// not a disconnect.
func ScannerProbe(export *scanner.Export, logger *slog.Logger) Probe {
	logger = logging.Component(logger, "health")
	return ProbeFunc{ID: types.BackendScannerExport, Fn: func(ctx context.Context) error {
		if err := export.Check(ctx); err != nil {
			return err
		}
		files, err := export.TodayFiles()
		if err != nil {
			logger.Debug("could not list scanner exports", "dir", export.Dir(), "error", err)
			return nil
		}
		logger.Debug("scanner export reachable", "dir", export.Dir(), "today_files", len(files))
		return nil
	}}
}
