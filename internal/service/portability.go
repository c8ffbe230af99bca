package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

// ExportVersion is bumped whenever ExportData changes incompatibly.
const ExportVersion = 1

type ExportData struct {
	Version    int                        `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Profile    *model.Profile             `json:"profile,omitempty"`
	Targets    model.Targets              `json:"targets"`
	LastUpdate string                     `json:"last_update"`
	Entries    []model.FoodEntry          `json:"entries"`
	History    map[string]model.DayTotals `json:"history"`
}

type ImportMode string

const (
	ImportModeFail    ImportMode = "fail"
	ImportModeSkip    ImportMode = "skip"
	ImportModeReplace ImportMode = "replace"
)

type ImportOptions struct {
	Mode   ImportMode
	DryRun bool
}

type ImportReport struct {
	Inserted    int      `json:"inserted"`
	HistoryDays int      `json:"history_days"`
	Skipped     int      `json:"skipped"`
	Conflicts   int      `json:"conflicts"`
	Warnings    []string `json:"warnings,omitempty"`
}

func ExportState(s model.LedgerState, now time.Time) *ExportData {
	c := s.Clone()
	return &ExportData{
		Version:    ExportVersion,
		ExportedAt: now.UTC(),
		Profile:    c.Profile,
		Targets:    c.Targets,
		LastUpdate: c.LastUpdate,
		Entries:    c.Entries,
		History:    c.History,
	}
}

// ImportState merges data into the ledger. In skip mode conflicting entries
// and history days are left as they are; fail mode aborts on the first
// conflict; replace mode swaps the whole state. Entries exported on a
// different day than the ledger's open day are folded into history rather
// than today's log.
func ImportState(ctx context.Context, l *ledger.Ledger, data *ExportData, opts ImportOptions) (ImportReport, error) {
	report := ImportReport{}
	if data == nil {
		return report, fmt.Errorf("import data is required")
	}
	if data.Version != ExportVersion {
		return report, fmt.Errorf("unsupported export version %d (expected %d)", data.Version, ExportVersion)
	}
	mode := normalizeImportMode(opts.Mode)
	if mode == "" {
		return report, fmt.Errorf("invalid import mode %q (use fail, skip or replace)", opts.Mode)
	}

	if mode == ImportModeReplace {
		report.Inserted = len(data.Entries)
		report.HistoryDays = len(data.History)
		if opts.DryRun {
			return report, nil
		}
		_, err := l.Restore(ctx, model.LedgerState{
			Profile:    data.Profile,
			LastUpdate: data.LastUpdate,
			Entries:    data.Entries,
			History:    data.History,
		})
		return report, err
	}

	next := l.Snapshot()
	if data.Profile != nil {
		if next.Profile == nil {
			p := *data.Profile
			next.Profile = &p
		} else if *next.Profile != *data.Profile {
			report.Warnings = append(report.Warnings, "kept existing profile; imported profile differs")
		}
	}

	history := data.History
	if data.LastUpdate != next.LastUpdate && len(data.Entries) > 0 {
		history = make(map[string]model.DayTotals, len(data.History)+1)
		for k, v := range data.History {
			history[k] = v
		}
		if _, ok := history[data.LastUpdate]; !ok {
			history[data.LastUpdate] = ledger.SumEntries(data.Entries)
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("entries from %s were archived as history", data.LastUpdate))
	}

	if data.LastUpdate == next.LastUpdate {
		existing := map[string]model.FoodEntry{}
		for _, e := range next.Entries {
			existing[e.ID] = e
		}
		for _, e := range data.Entries {
			if cur, ok := existing[e.ID]; ok {
				if sameEntry(cur, e) {
					report.Skipped++
					continue
				}
				report.Conflicts++
				if mode == ImportModeFail {
					return report, fmt.Errorf("conflict on entry %s", e.ID)
				}
				report.Skipped++
				continue
			}
			next.Entries = append(next.Entries, e)
			existing[e.ID] = e
			report.Inserted++
		}
		sort.SliceStable(next.Entries, func(i, j int) bool {
			return next.Entries[i].ConsumedAt.Before(next.Entries[j].ConsumedAt)
		})
	}

	days := make([]string, 0, len(history))
	for day := range history {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		if day == next.LastUpdate {
			continue
		}
		totals := history[day]
		if cur, ok := next.History[day]; ok {
			if cur == totals {
				report.Skipped++
				continue
			}
			report.Conflicts++
			if mode == ImportModeFail {
				return report, fmt.Errorf("conflict on history day %s", day)
			}
			report.Skipped++
			continue
		}
		next.History[day] = totals
		report.HistoryDays++
	}

	if opts.DryRun {
		return report, nil
	}
	if _, err := l.Restore(ctx, next); err != nil {
		return report, err
	}
	return report, nil
}

func sameEntry(a, b model.FoodEntry) bool {
	if !a.ConsumedAt.Equal(b.ConsumedAt) {
		return false
	}
	a.ConsumedAt, b.ConsumedAt = time.Time{}, time.Time{}
	return a == b
}

func normalizeImportMode(mode ImportMode) ImportMode {
	switch ImportMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case "", ImportModeFail:
		return ImportModeFail
	case ImportModeSkip:
		return ImportModeSkip
	case ImportModeReplace:
		return ImportModeReplace
	default:
		return ""
	}
}

// WriteEntriesCSV writes today's log, one row per entry.
func WriteEntriesCSV(w io.Writer, entries []model.FoodEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "calories", "protein_g", "carbs_g", "fat_g", "consumed_at", "source"}); err != nil {
		return fmt.Errorf("write entries csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			e.Name,
			formatFloat(e.Calories),
			formatFloat(e.ProteinG),
			formatFloat(e.CarbsG),
			formatFloat(e.FatG),
			e.ConsumedAt.Format(time.RFC3339),
			e.Source,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write entries csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush entries csv: %w", err)
	}
	return nil
}

// WriteHistoryCSV writes the archive ordered by date.
func WriteHistoryCSV(w io.Writer, history map[string]model.DayTotals) error {
	days := make([]string, 0, len(history))
	for day := range history {
		days = append(days, day)
	}
	sort.Strings(days)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "calories", "protein_g", "carbs_g", "fat_g"}); err != nil {
		return fmt.Errorf("write history csv header: %w", err)
	}
	for _, day := range days {
		d := history[day]
		if err := cw.Write([]string{day, formatFloat(d.Calories), formatFloat(d.ProteinG), formatFloat(d.CarbsG), formatFloat(d.FatG)}); err != nil {
			return fmt.Errorf("write history csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush history csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
