package dietweb

import (
	"encoding/json"
	"fmt"

	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
	"github.com/spf13/cobra"
)

var (
	doctorFix  bool
	doctorJSON bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run ledger integrity checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			store, err := s.store()
			if err != nil {
				return err
			}
			opts := s.ledgerOptions()
			report, err := service.RunDoctor(cmd.Context(), store, now(), doctorFix, opts...)
			if err != nil {
				return err
			}
			if doctorJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal doctor json: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			} else {
				printDoctorReport(cmd, report)
			}
			if report.Fixed {
				// Re-check after fixes so exit status reflects final state.
				report, err = service.RunDoctor(cmd.Context(), store, now(), false, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "After fix: %d problem(s)\n", len(report.Problems))
			}
			if !report.Healthy() {
				return fmt.Errorf("doctor found integrity issues")
			}
			return nil
		})
	},
}

func printDoctorReport(cmd *cobra.Command, r service.DoctorReport) {
	out := cmd.OutOrStdout()
	if !r.HasData {
		fmt.Fprintf(out, "No stored ledger for user %s\n", userID)
		return
	}
	fmt.Fprintf(out, "Profile valid: %t\n", r.ProfileValid)
	fmt.Fprintf(out, "Ledger valid: %t\n", r.LedgerValid)
	fmt.Fprintf(out, "Date marker valid: %t (stale: %t)\n", r.MarkerValid, r.StaleMarker)
	fmt.Fprintf(out, "Duplicate entry ids: %d\n", r.DuplicateEntryIDs)
	fmt.Fprintf(out, "Invalid entries: %d\n", r.InvalidEntries)
	fmt.Fprintf(out, "Entries from another day: %d\n", r.EntriesOffDay)
	for _, p := range r.Problems {
		fmt.Fprintf(out, "- %s\n", p)
	}
	if r.Fixed {
		fmt.Fprintln(out, "Rewrote ledger")
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Rewrite a consistent ledger from the stored data")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output JSON")
}
