package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-ops/frontdesk/internal/cloudsync"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "ops",
	Short:   "Inspect and drive cloud sync of local records",
	Long: `Every locally written member, check-in, incident, announcement and knowledge
base entry has one entry in the sync ledger: PENDING until pushed to the cloud
store, then SYNCED, or FAILED with the last error until a retry succeeds.`,
}

// syncStatusReport is what `frontdesk sync status` prints.
type syncStatusReport struct {
	Counts map[types.SyncStatus]int `json:"counts" yaml:"counts"`
	Failed []*types.SyncRecord      `json:"failed,omitempty" yaml:"failed,omitempty"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger totals and records awaiting retry",
	Run: func(cmd *cobra.Command, args []string) {
		format, err := checkFormat(mustString(cmd, "format"))
		if err != nil {
			fatalf("%v", err)
		}
		tracker, err := current.tracker()
		if err != nil {
			fatalf("%v", err)
		}
		counts, err := tracker.Counts(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		failed, err := tracker.ListRetryable(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		report := syncStatusReport{Counts: counts, Failed: failed}
		if format != formatTable {
			if err := writeStructured(os.Stdout, format, report); err != nil {
				fatalf("failed to write sync status: %v", err)
			}
			return
		}

		theme := current.theme
		fmt.Printf("%s pending  %s failed  %s synced\n",
			theme.RenderWarn(fmt.Sprint(counts[types.SyncPending])),
			theme.RenderFail(fmt.Sprint(counts[types.SyncFailed])),
			theme.RenderPass(fmt.Sprint(counts[types.SyncSynced])))
		if len(failed) == 0 {
			return
		}
		rows := make([][]string, 0, len(failed))
		for _, r := range failed {
			attempted := ""
			if r.LastAttemptAt != nil {
				attempted = r.LastAttemptAt.Local().Format(time.DateTime)
			}
			rows = append(rows, []string{
				r.TableName,
				fmt.Sprint(r.RecordID),
				theme.RenderSyncStatus(r.Status),
				attempted,
				r.ErrorMessage,
			})
		}
		fmt.Println(theme.Table([]string{"Table", "ID", "Status", "Last attempt", "Error"}, rows))
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Push PENDING and FAILED records to the cloud store now",
	Run: func(cmd *cobra.Command, args []string) {
		if current.cfg.Cloud.URL == "" {
			fatalf("cloud.url is not set")
		}
		sweeper, err := current.sweeper(cmd.Context(), nil)
		if err != nil {
			fatalf("failed to connect to cloud store: %v", err)
		}
		result, err := sweeper.SweepOnce(cmd.Context())
		if errors.Is(err, cloudsync.ErrSweepInProgress) {
			fatalf("a sync sweep is already running")
		}
		if err != nil {
			fatalf("%v", err)
		}
		if result.Attempted == 0 {
			fmt.Println("Nothing to sync")
			return
		}

		theme := current.theme
		fmt.Printf("%s Sweep %s: %d attempted, %s synced, %s failed",
			theme.RenderAccent("↻"), result.BatchID, result.Attempted,
			theme.RenderPass(fmt.Sprint(result.Synced)),
			theme.RenderFail(fmt.Sprint(result.Failed)))
		if result.Superseded > 0 {
			fmt.Printf(", %s changed during push", theme.RenderWarn(fmt.Sprint(result.Superseded)))
		}
		fmt.Println()
		if result.Failed > 0 {
			current.Close()
			os.Exit(2)
		}
	},
}

func init() {
	syncStatusCmd.Flags().StringP("format", "f", formatTable, "Output format: table, json, yaml")
	syncCmd.AddCommand(syncStatusCmd, syncRetryCmd)
	rootCmd.AddCommand(syncCmd)
}
