package dietweb

import (
	"encoding/json"
	"fmt"

	"github.com/pcrpg2df4s-blip/dietweb/internal/display"
	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
	"github.com/spf13/cobra"
)

var (
	todayHistoryDays int
	todayJSON        bool
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's intake against targets and the food log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			state := l.Snapshot()
			if todayJSON {
				b, err := json.MarshalIndent(service.TodaySummary(state), "", "  ")
				if err != nil {
					return fmt.Errorf("marshal today json: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			var d display.Display = display.TextDisplay{W: cmd.OutOrStdout(), HistoryDays: todayHistoryDays}
			return d.Render(state)
		})
	},
}

var tipsCmd = &cobra.Command{
	Use:   "tips",
	Short: "Show nutrition tips for the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(s *session, l *ledger.Ledger) error {
			state := l.Snapshot()
			tips := estimator.DefaultTips
			if state.Profile != nil {
				_, src := s.gemini()
				tips = estimator.TipsOrDefault(cmd.Context(), src, s.log, *state.Profile, state.Targets)
			}
			for _, t := range tips {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", t.Icon, t.Text)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(todayCmd, tipsCmd)
	todayCmd.Flags().IntVar(&todayHistoryDays, "history", 0, "Also show the last N days of history")
	todayCmd.Flags().BoolVar(&todayJSON, "json", false, "Output JSON summary")
}
