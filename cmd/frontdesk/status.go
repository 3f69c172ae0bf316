package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// statusReport is what `frontdesk status` prints.
type statusReport struct {
	CheckedAt time.Time                `json:"checked_at" yaml:"checked_at"`
	Backends  []types.ConnectionState  `json:"backends" yaml:"backends"`
	Sync      map[types.SyncStatus]int `json:"sync,omitempty" yaml:"sync,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "ops",
	Short:   "Probe every backend once and report",
	Long: `Run one probe round across all backends and print the result together with
the cloud sync ledger totals.

Example usage:
  frontdesk status
  frontdesk status --format yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		format, err := checkFormat(format)
		if err != nil {
			fatalf("%v", err)
		}

		report, err := collectStatus(cmd.Context(), current)
		if err != nil {
			fatalf("%v", err)
		}

		if format != formatTable {
			if err := writeStructured(os.Stdout, format, report); err != nil {
				fatalf("failed to write status: %v", err)
			}
			return
		}
		printStatusTable(current, report)
	},
}

func init() {
	statusCmd.Flags().StringP("format", "f", formatTable, "Output format: table, json, yaml")
	rootCmd.AddCommand(statusCmd)
}

func collectStatus(ctx context.Context, app *appContext) (*statusReport, error) {
	mon, err := app.monitor()
	if err != nil {
		return nil, fmt.Errorf("failed to build monitor: %w", err)
	}
	defer mon.Stop()

	mon.CheckNow(ctx)

	report := &statusReport{
		CheckedAt: mon.LastChecked(),
		Backends:  mon.Snapshot(),
	}
	if tracker, err := app.tracker(); err == nil {
		counts, err := tracker.Counts(ctx)
		if err != nil {
			app.logger.Warn("could not read sync ledger", "error", err)
		} else {
			report.Sync = counts
		}
	}
	return report, nil
}

func printStatusTable(app *appContext, report *statusReport) {
	rows := make([][]string, 0, len(report.Backends))
	for _, s := range report.Backends {
		rows = append(rows, []string{
			string(s.Backend),
			app.theme.RenderStatus(s.Status),
			s.LastError,
		})
	}
	fmt.Println(app.theme.Table([]string{"Backend", "Status", "Detail"}, rows))

	if report.Sync != nil {
		fmt.Printf("Sync ledger: %s pending, %s failed, %s synced\n",
			app.theme.RenderWarn(fmt.Sprint(report.Sync[types.SyncPending])),
			app.theme.RenderFail(fmt.Sprint(report.Sync[types.SyncFailed])),
			app.theme.RenderPass(fmt.Sprint(report.Sync[types.SyncSynced])))
	}
	fmt.Println(app.theme.RenderMuted("Checked at " + report.CheckedAt.Local().Format(time.RFC1123)))
}
