package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/nutrition"
)

type DoctorReport struct {
	HasData           bool     `json:"has_data"`
	ProfileValid      bool     `json:"profile_valid"`
	LedgerValid       bool     `json:"ledger_valid"`
	MarkerValid       bool     `json:"marker_valid"`
	StaleMarker       bool     `json:"stale_marker"`
	FutureMarker      bool     `json:"future_marker"`
	TotalsMismatch    bool     `json:"totals_mismatch"`
	HistoryMismatch   bool     `json:"history_mismatch"`
	DuplicateEntryIDs int      `json:"duplicate_entry_ids"`
	InvalidEntries    int      `json:"invalid_entries"`
	EntriesOffDay     int      `json:"entries_off_day"`
	Problems          []string `json:"problems,omitempty"`
	Fixed             bool     `json:"fixed,omitempty"`
}

func (r DoctorReport) Healthy() bool {
	return len(r.Problems) == 0
}

// RunDoctor inspects the persisted records directly, so drift the ledger
// would silently repair on load is still visible. With fix set, the ledger
// is loaded and persisted again, which rewrites a consistent state.
func RunDoctor(ctx context.Context, store kv.Store, today time.Time, fix bool, opts ...ledger.Option) (DoctorReport, error) {
	report := DoctorReport{}
	raw, err := ledger.ReadStored(ctx, store)
	if err != nil {
		return report, fmt.Errorf("doctor read store: %w", err)
	}
	report.HasData = len(raw) > 0
	if !report.HasData {
		return report, nil
	}
	problem := func(format string, args ...any) {
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	if v, ok := raw[ledger.KeyProfile]; ok {
		var p model.Profile
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			problem("profile record is not valid JSON")
		} else if _, err := nutrition.NormalizeProfile(p, today); err != nil {
			problem("profile record is invalid: %v", err)
		} else {
			report.ProfileValid = true
		}
	}

	_, hasLedger := raw[ledger.KeyLedger]
	_, hasMarker := raw[ledger.KeyLastUpdate]
	if !hasLedger && !hasMarker {
		// Only the profile is stored; the ledger starts a fresh day on load.
		return runFix(ctx, store, today, fix, &report, opts)
	}

	marker := strings.TrimSpace(raw[ledger.KeyLastUpdate])
	if _, err := time.Parse(model.DateLayout, marker); err != nil {
		problem("date marker %q is not a YYYY-MM-DD date", marker)
	} else {
		report.MarkerValid = true
		day := today.Format(model.DateLayout)
		if marker < day {
			report.StaleMarker = true
		}
		if marker > day {
			report.FutureMarker = true
			problem("date marker %s is after today %s", marker, day)
		}
	}

	var rec ledger.Record
	if v, ok := raw[ledger.KeyLedger]; !ok {
		problem("ledger record is missing")
	} else if err := json.Unmarshal([]byte(v), &rec); err != nil {
		problem("ledger record is not valid JSON")
	} else {
		report.LedgerValid = true
		checkRecord(&report, rec, marker, problem)
	}

	return runFix(ctx, store, today, fix, &report, opts)
}

func runFix(ctx context.Context, store kv.Store, today time.Time, fix bool, report *DoctorReport, opts []ledger.Option) (DoctorReport, error) {
	if !fix || report.Healthy() {
		return *report, nil
	}
	opts = append(opts, ledger.WithClock(func() time.Time { return today }))
	l := ledger.New(store, opts...)
	if _, err := l.Initialize(ctx); err != nil {
		return *report, fmt.Errorf("doctor reload ledger: %w", err)
	}
	if err := l.Persist(ctx); err != nil {
		return *report, fmt.Errorf("doctor rewrite ledger: %w", err)
	}
	report.Fixed = true
	return *report, nil
}

func checkRecord(report *DoctorReport, rec ledger.Record, marker string, problem func(string, ...any)) {
	if rec.Targets == nil {
		problem("ledger record has no targets")
	}
	seen := map[string]bool{}
	for _, e := range rec.Entries {
		if seen[e.ID] {
			report.DuplicateEntryIDs++
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" ||
			e.Calories < 0 || e.ProteinG < 0 || e.CarbsG < 0 || e.FatG < 0 {
			report.InvalidEntries++
		}
		if report.MarkerValid && !e.ConsumedAt.IsZero() && e.ConsumedAt.Format(model.DateLayout) != marker {
			report.EntriesOffDay++
		}
	}
	if report.DuplicateEntryIDs > 0 {
		problem("%d duplicate entry ids", report.DuplicateEntryIDs)
	}
	if report.InvalidEntries > 0 {
		problem("%d invalid entries", report.InvalidEntries)
	}

	sum := ledger.SumEntries(rec.Entries)
	if rec.Today != sum {
		report.TotalsMismatch = true
		problem("stored totals %.1f kcal do not match the entry log %.1f kcal", rec.Today.Calories, sum.Calories)
	}
	if day, ok := rec.History[marker]; ok && day != sum {
		report.HistoryMismatch = true
		problem("history for %s does not match the entry log", marker)
	}
	for day := range rec.History {
		if _, err := time.Parse(model.DateLayout, day); err != nil {
			problem("history key %q is not a date", day)
		}
	}
}
