package dietweb

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	userID     string
)

// now is swapped by tests to pin the calendar day.
var now = time.Now

var rootCmd = &cobra.Command{
	Use:   "dietweb",
	Short: "dietweb tracks daily calories and macros against computed targets",
	Long: "dietweb keeps a per-user nutrition ledger: a profile with computed calorie and macro targets, " +
		"today's food log, and a per-day history. It runs as a CLI or serves the Mini App API.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "local", "Ledger owner (Telegram user id)")
}
