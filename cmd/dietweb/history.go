package dietweb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
	"github.com/spf13/cobra"
)

var (
	historyDays      int
	historyFrom      string
	historyTo        string
	historyJSON      bool
	historyTolerance float64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Summarize archived days and adherence to targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := resolveHistoryRange()
		if err != nil {
			return err
		}
		return withLedger(cmd, func(s *session, l *ledger.Ledger) error {
			tolerance := s.tolerance
			if cmd.Flags().Changed("tolerance") {
				tolerance = historyTolerance
			}
			report, err := service.HistoryRange(l.Snapshot(), from, to, tolerance)
			if err != nil {
				return err
			}
			if historyJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal history json: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			printHistoryTable(cmd, report)
			return nil
		})
	},
}

func resolveHistoryRange() (time.Time, time.Time, error) {
	if historyFrom != "" || historyTo != "" {
		if historyFrom == "" || historyTo == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be set together")
		}
		from, err := parseDate("--from", historyFrom)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to, err := parseDate("--to", historyTo)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return from, to, nil
	}
	if historyDays < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("--days must be >= 1")
	}
	from, to := service.LastDays(now(), historyDays)
	return from, to, nil
}

func printHistoryTable(cmd *cobra.Command, r *service.HistoryReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Range: %s to %s\n", r.FromDate, r.ToDate)
	if r.DaysWithEntries == 0 {
		fmt.Fprintln(out, "No logged days in range.")
		return
	}
	fmt.Fprintf(out, "Totals: kcal=%.0f P=%.1f C=%.1f F=%.1f\n", r.TotalCalories, r.TotalProtein, r.TotalCarbs, r.TotalFat)
	fmt.Fprintf(out, "Averages/day: kcal=%.1f P=%.1f C=%.1f F=%.1f\n", r.AverageCaloriesPerDay, r.AverageProteinPerDay, r.AverageCarbsPerDay, r.AverageFatPerDay)
	if r.HighestDay != nil && r.LowestDay != nil {
		fmt.Fprintf(out, "Highest day: %s (%.0f kcal)\n", r.HighestDay.Date, r.HighestDay.Calories)
		fmt.Fprintf(out, "Lowest day: %s (%.0f kcal)\n", r.LowestDay.Date, r.LowestDay.Calories)
	}
	fmt.Fprintf(out, "Adherence: %d/%d days within targets (%.1f%%)\n", r.Adherence.WithinGoalDays, r.Adherence.EvaluatedDays, r.Adherence.PercentWithin)

	fmt.Fprintln(out, "\nDATE\tKCAL\tP\tC\tF")
	for _, d := range r.Days {
		fmt.Fprintf(out, "%s\t%.0f\t%.1f\t%.1f\t%.1f\n", d.Date, d.Calories, d.Protein, d.Carbs, d.Fat)
	}
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Close the stored day into history if the date has changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			store, err := s.store()
			if err != nil {
				return err
			}
			raw, err := ledger.ReadStored(cmd.Context(), store)
			if err != nil {
				return err
			}
			before := raw[ledger.KeyLastUpdate]

			l, err := s.openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			after := l.Today()
			if before == "" || before == after {
				fmt.Fprintf(cmd.OutOrStdout(), "Ledger is current (%s)\n", after)
				return nil
			}
			closed := l.Snapshot().History[before]
			fmt.Fprintf(cmd.OutOrStdout(), "Closed %s (%.0f kcal), now %s\n", before, closed.Calories, after)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd, rolloverCmd)
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "Number of days ending today")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Start date YYYY-MM-DD")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "End date YYYY-MM-DD")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output JSON")
	historyCmd.Flags().Float64Var(&historyTolerance, "tolerance", service.DefaultTolerance, "Macro adherence tolerance ratio")
}
