package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ops/frontdesk/internal/cache"
	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/cloudsync"
	"github.com/frontdesk-ops/frontdesk/internal/config"
	"github.com/frontdesk-ops/frontdesk/internal/health"
	"github.com/frontdesk-ops/frontdesk/internal/identity"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/remote"
	"github.com/frontdesk-ops/frontdesk/internal/scanner"
	"github.com/frontdesk-ops/frontdesk/internal/timeclock"
	"github.com/frontdesk-ops/frontdesk/internal/ui"
)

// appContext builds components lazily from the loaded configuration and
// owns everything that must be closed before exit.
type appContext struct {
	loader *config.Loader
	cfg    *config.Config
	logger *slog.Logger
	theme  *ui.Theme
	clock  clock.Clock

	mu      sync.Mutex
	closers []io.Closer
	closed  bool

	db     *cache.DB
	auth   *remote.Authenticator
	client *remote.Client
}

func newApp(configFile string, cmd *cobra.Command) (*appContext, error) {
	loader, err := config.NewLoader(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Root().PersistentFlags()
	if err := loader.Viper().BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("failed to bind --log-level: %w", err)
	}
	if err := loader.Viper().BindPFlag("log.format", flags.Lookup("log-format")); err != nil {
		return nil, fmt.Errorf("failed to bind --log-format: %w", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &appContext{
		loader:  loader,
		cfg:     cfg,
		logger:  logger,
		theme:   ui.New(os.Stdout, ui.ColorEnabled(os.Stdout)),
		clock:   clock.Real(),
		closers: []io.Closer{logCloser},
	}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *appContext) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func (a *appContext) track(c io.Closer) {
	a.mu.Lock()
	a.closers = append(a.closers, c)
	a.mu.Unlock()
}

// cache opens the local cache once.
func (a *appContext) cache() (*cache.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := cache.Open(a.cfg.Cache.Path, cache.WithClock(a.clock))
	if err != nil {
		return nil, err
	}
	a.db = db
	a.track(db)
	return db, nil
}

// authenticator is always available; it reports Configured() == false
// when no credentials are set.
func (a *appContext) authenticator() *remote.Authenticator {
	if a.auth == nil {
		r := a.cfg.Remote
		a.auth = remote.NewAuthenticator(remote.AuthConfig{
			BaseURL:      r.BaseURL,
			TokenURL:     r.TokenURL,
			APIKey:       r.APIKey,
			SiteID:       r.SiteID,
			ClientID:     r.ClientID,
			ClientSecret: r.ClientSecret,
			Clock:        a.clock,
			Logger:       a.logger,
		})
	}
	return a.auth
}

// directory returns the remote client, or nil when no base URL is set.
func (a *appContext) directory() (*remote.Client, error) {
	if a.client != nil || a.cfg.Remote.BaseURL == "" {
		return a.client, nil
	}
	client, err := remote.NewClient(remote.Config{
		BaseURL: a.cfg.Remote.BaseURL,
		SiteID:  a.cfg.Remote.SiteID,
		Timeout: a.cfg.Remote.Timeout,
		Clock:   a.clock,
		Logger:  a.logger,
	}, a.authenticator())
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *appContext) resolver() (*identity.Resolver, error) {
	db, err := a.cache()
	if err != nil {
		return nil, err
	}
	client, err := a.directory()
	if err != nil {
		return nil, err
	}
	var dir identity.Directory
	if client != nil {
		dir = client
	}
	return identity.NewResolver(db, dir, identity.Config{Logger: a.logger}), nil
}

func (a *appContext) timeClock() *timeclock.Store {
	return timeclock.New(timeclock.Config{
		Path:     a.cfg.TimeClock.Path,
		Discover: a.cfg.TimeClock.Discover,
		Saver:    a.loader,
		Logger:   a.logger,
	})
}

func (a *appContext) export() *scanner.Export {
	return scanner.NewExport(a.cfg.Scanner.ExportPath, a.clock)
}

// monitor builds a health monitor over all four backends.
func (a *appContext) monitor() (*health.Monitor, error) {
	db, err := a.cache()
	if err != nil {
		return nil, err
	}
	client, err := a.directory()
	if err != nil {
		return nil, err
	}
	var pinger health.Pinger
	if client != nil {
		pinger = client
	}

	return health.New([]health.Probe{
		health.RemoteProbe(a.authenticator(), pinger),
		health.CacheProbe(db),
		health.ScannerProbe(a.export(), a.logger),
		health.TimeClockProbe(a.timeClock()),
	}, health.Config{
		Interval:     a.cfg.Health.Interval,
		ProbeTimeout: a.cfg.Health.ProbeTimeout,
		Clock:        a.clock,
		Logger:       a.logger,
	})
}

// sweeper connects to the cloud store. It returns ErrConfigurationMissing
// when cloud.url is unset.
func (a *appContext) sweeper(ctx context.Context, onSweep func(cloudsync.SweepResult)) (*cloudsync.Sweeper, error) {
	db, err := a.cache()
	if err != nil {
		return nil, err
	}
	writer, err := cloudsync.OpenLibSQL(ctx, a.cfg.Cloud.URL, a.cfg.Cloud.AuthToken)
	if err != nil {
		return nil, err
	}
	a.track(writer)
	return cloudsync.NewSweeper(db, db, writer, cloudsync.SweeperConfig{
		Schedule: a.cfg.Cloud.Schedule,
		OnSweep:  onSweep,
		Logger:   a.logger,
	}), nil
}

// tracker reads the ledger without needing a cloud connection.
func (a *appContext) tracker() (cloudsync.Tracker, error) {
	db, err := a.cache()
	if err != nil {
		return nil, err
	}
	return cloudsync.NewTracker(db, a.logger), nil
}
