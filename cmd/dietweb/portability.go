package dietweb

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
	importIn     string
	importMode   string
	importDryRun bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger (json, csv entries or history-csv)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(exportOut) == "" {
			return fmt.Errorf("--out is required")
		}
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			state := l.Snapshot()
			format := strings.ToLower(strings.TrimSpace(exportFormat))
			switch format {
			case "json":
				b, err := json.MarshalIndent(service.ExportState(state, now()), "", "  ")
				if err != nil {
					return fmt.Errorf("marshal export json: %w", err)
				}
				if err := os.WriteFile(exportOut, b, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
			case "csv", "history-csv":
				f, err := os.Create(exportOut)
				if err != nil {
					return fmt.Errorf("create export csv: %w", err)
				}
				defer f.Close()
				if format == "csv" {
					err = service.WriteEntriesCSV(f, state.Entries)
				} else {
					err = service.WriteHistoryCSV(f, state.History)
				}
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported --format %q (use json, csv or history-csv)", exportFormat)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported data to %s\n", exportOut)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON export into the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(importIn) == "" {
			return fmt.Errorf("--in is required")
		}
		raw, err := os.ReadFile(importIn)
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		var payload service.ExportData
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("parse import json: %w", err)
		}
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			report, err := service.ImportState(cmd.Context(), l, &payload, service.ImportOptions{
				Mode:   service.ImportMode(strings.ToLower(strings.TrimSpace(importMode))),
				DryRun: importDryRun,
			})
			if err := checkStored(cmd, err); err != nil {
				return err
			}
			prefix := "Imported"
			if importDryRun {
				prefix = "Dry run:"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s entries=%d history_days=%d skipped=%d conflicts=%d\n",
				prefix, report.Inserted, report.HistoryDays, report.Skipped, report.Conflicts)
			for _, w := range report.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json, csv or history-csv")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file path")
	importCmd.Flags().StringVar(&importIn, "in", "", "JSON export to import")
	importCmd.Flags().StringVar(&importMode, "mode", "fail", "Conflict handling: fail, skip or replace")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report what would change without saving")
}
