// Command frontdesk monitors the front desk's backends and looks members up
// cache-first against the remote directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	logFormat  string

	// current is the per-invocation wiring, set by PersistentPreRun.
	current *appContext
)

var rootCmd = &cobra.Command{
	Use:   "frontdesk",
	Short: "Front desk connectivity and member identity tools",
	Long: `frontdesk keeps a local cache of member identities in front of the remote
member directory and watches the four backends the desk depends on:

  REMOTE_DIRECTORY   the hosted member directory API
  LOCAL_CACHE        the embedded SQLite cache
  SCANNER_EXPORT     the badge scanner's CSV export directory
  TIME_CLOCK_STORE   the time-clock vendor's database

Settings come from frontdesk.yaml (working directory or ~/.frontdesk), a .env
file and FRONTDESK_* environment variables, e.g. FRONTDESK_REMOTE_API_KEY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		app, err := newApp(configFile, cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		current = app
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./frontdesk.yaml or ~/.frontdesk/frontdesk.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json, auto")

	rootCmd.AddGroup(
		&cobra.Group{ID: "desk", Title: "Front desk:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
}

// fatalf prints an error, releases the current wiring and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if current != nil {
		current.Close()
	}
	os.Exit(1)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
