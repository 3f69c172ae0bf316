package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ops/frontdesk/internal/cloudsync"
	"github.com/frontdesk-ops/frontdesk/internal/dashboard"
	"github.com/frontdesk-ops/frontdesk/internal/health"
	"github.com/frontdesk-ops/frontdesk/internal/scanner"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	GroupID: "ops",
	Short:   "Watch backend health until interrupted",
	Long: `Probe every backend immediately and then once per health.interval, printing
each status change as it happens.

While running, monitor also:
  - re-probes SCANNER_EXPORT as soon as the export directory or a file for
    today appears (scanner.watch)
  - pushes PENDING and FAILED ledger entries to the cloud store on
    cloud.schedule, when cloud.url is set
  - serves the dashboard, with --dashboard

Example usage:
  frontdesk monitor
  frontdesk monitor --dashboard --port 9000`,
	Run: func(cmd *cobra.Command, args []string) {
		serve, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = current.cfg.Dashboard.Port
		}
		if err := runMonitor(current, serve, port); err != nil {
			fatalf("%v", err)
		}
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "ops",
	Short:   "Start the status dashboard",
	Long: `Start the monitor together with an HTTP dashboard.

Endpoints:
  /                 short description of the endpoints
  /health           backend snapshot, last round time and ledger counts (JSON)
  /ws               WebSocket stream: snapshot, state_change, sync_sweep
  /members/search   ?q=<term>[&local=true], cache-first member search

Example usage:
  frontdesk dashboard              # Start on dashboard.port (default 8787)
  frontdesk dashboard --port 9000`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = current.cfg.Dashboard.Port
		}
		if err := runMonitor(current, true, port); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	monitorCmd.Flags().Bool("dashboard", false, "Also serve the status dashboard")
	monitorCmd.Flags().IntP("port", "p", 8787, "Dashboard port")
	dashboardCmd.Flags().IntP("port", "p", 8787, "Port to listen on")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(dashboardCmd)
}

func runMonitor(app *appContext, serve bool, port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mon, err := app.monitor()
	if err != nil {
		return fmt.Errorf("failed to build monitor: %w", err)
	}
	defer mon.Stop()

	changes, unsubscribe := mon.Subscribe()
	defer unsubscribe()
	go printChanges(app, changes)

	var server *dashboard.Server
	if serve {
		server, err = startDashboard(ctx, app, mon, port)
		if err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				app.logger.Warn("dashboard shutdown failed", "error", err)
			}
		}()
	}

	if app.cfg.Cloud.URL != "" {
		sweeper, err := app.sweeper(ctx, func(r cloudsync.SweepResult) {
			if server != nil {
				server.OnSweep(dashboard.SweepData{
					BatchID:   r.BatchID,
					Attempted: r.Attempted,
					Synced:    r.Synced,
					Failed:    r.Failed,
				})
			}
		})
		if err != nil {
			return fmt.Errorf("failed to connect to cloud store: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	if app.cfg.Scanner.Watch && app.cfg.Scanner.ExportPath != "" {
		if stop := watchScanner(ctx, app, mon); stop != nil {
			defer stop()
		}
	}

	mon.Start()
	fmt.Printf("%s Monitoring %d backends every %s\n",
		app.theme.RenderAccent("●"), len(mon.Snapshot()), app.cfg.Health.Interval)
	fmt.Println("Press Ctrl+C to stop...")

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return nil
}

func startDashboard(ctx context.Context, app *appContext, mon *health.Monitor, port int) (*dashboard.Server, error) {
	resolver, err := app.resolver()
	if err != nil {
		return nil, err
	}
	tracker, err := app.tracker()
	if err != nil {
		return nil, err
	}

	server, err := dashboard.NewServer(dashboard.Config{
		Port:    port,
		Status:  mon,
		Members: resolver,
		Sync:    tracker,
		Clock:   app.clock,
		Logger:  app.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}

	events, unsubscribe := mon.Subscribe()
	go func() {
		defer unsubscribe()
		server.Follow(ctx, events)
	}()

	fmt.Printf("Dashboard: http://localhost:%d\n", port)
	fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
	return server, nil
}

// watchScanner feeds export directory changes to the monitor. A watcher
// that cannot start is logged and skipped; polling still covers it.
func watchScanner(ctx context.Context, app *appContext, mon *health.Monitor) func() {
	w, err := scanner.NewWatcher()
	if err != nil {
		app.logger.Warn("scanner watcher unavailable", "error", err)
		return nil
	}
	if err := w.Start(app.cfg.Scanner.ExportPath); err != nil {
		app.logger.Warn("scanner watcher unavailable", "dir", app.cfg.Scanner.ExportPath, "error", err)
		_ = w.Stop()
		return nil
	}

	go mon.FollowScanner(ctx, w.Events())
	go func() {
		for err := range w.Errors() {
			app.logger.Warn("scanner watcher error", "error", err)
		}
	}()
	return func() {
		if err := w.Stop(); err != nil {
			app.logger.Warn("scanner watcher stop failed", "error", err)
		}
	}
}

func printChanges(app *appContext, changes <-chan types.StateChange) {
	for change := range changes {
		fmt.Printf("%s  %-16s %s -> %s\n",
			change.Timestamp.Local().Format("15:04:05"),
			change.Backend,
			app.theme.RenderStatus(change.OldStatus),
			app.theme.RenderStatus(change.NewStatus))
	}
}
