package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
)

func TestExportImportReplaceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := newTestLedger(t, kv.NewMemoryStore(0), "2026-02-10")
	if _, err := src.SetProfile(ctx, referenceProfile()); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if _, err := src.RecordFood(ctx, model.FoodEntry{Name: "Oats", Calories: 300, ProteinG: 10, CarbsG: 50, FatG: 5}); err != nil {
		t.Fatalf("record: %v", err)
	}

	data := service.ExportState(src.Snapshot(), day(t, "2026-02-10"))
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	var decoded service.ExportData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}

	dst := newTestLedger(t, kv.NewMemoryStore(0), "2026-02-10")
	report, err := service.ImportState(ctx, dst, &decoded, service.ImportOptions{Mode: service.ImportModeReplace})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Inserted != 1 {
		t.Fatalf("expected 1 inserted entry, got %+v", report)
	}
	got := dst.Snapshot()
	if got.Today.Calories != 300 || got.Profile == nil || got.Targets.Calories != 2099 {
		t.Fatalf("unexpected imported state %+v", got)
	}
}

func TestImportSkipAndFailModes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(0), "2026-02-10")
	consumed := day(t, "2026-02-10")
	if _, err := l.RecordFood(ctx, model.FoodEntry{ID: "a", Name: "Oats", Calories: 300, ConsumedAt: consumed}); err != nil {
		t.Fatalf("record: %v", err)
	}

	data := &service.ExportData{
		Version:    service.ExportVersion,
		LastUpdate: "2026-02-10",
		Entries: []model.FoodEntry{
			{ID: "a", Name: "Oats", Calories: 350, ConsumedAt: consumed, Source: model.SourceManual},
			{ID: "b", Name: "Apple", Calories: 80, ConsumedAt: consumed.Add(time.Hour), Source: model.SourceManual},
		},
		History: map[string]model.DayTotals{"2026-02-01": {Calories: 1900}},
	}

	before := l.Snapshot()
	if _, err := service.ImportState(ctx, l, data, service.ImportOptions{Mode: service.ImportModeFail}); err == nil {
		t.Fatalf("expected conflict error in fail mode")
	}
	if l.Snapshot().Today != before.Today {
		t.Fatalf("fail mode must not change the ledger")
	}

	dry, err := service.ImportState(ctx, l, data, service.ImportOptions{Mode: service.ImportModeSkip, DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.Inserted != 1 || dry.Conflicts != 1 || dry.HistoryDays != 1 {
		t.Fatalf("unexpected dry run report %+v", dry)
	}
	if len(l.Snapshot().Entries) != 1 {
		t.Fatalf("dry run must not change the ledger")
	}

	report, err := service.ImportState(ctx, l, data, service.ImportOptions{Mode: service.ImportModeSkip})
	if err != nil {
		t.Fatalf("skip import: %v", err)
	}
	if report.Inserted != 1 || report.Skipped != 1 {
		t.Fatalf("unexpected skip report %+v", report)
	}
	s := l.Snapshot()
	if s.Today.Calories != 380 {
		t.Fatalf("expected existing entry kept and apple added (380 kcal), got %v", s.Today.Calories)
	}
	if s.History["2026-02-01"].Calories != 1900 {
		t.Fatalf("expected history day imported, got %+v", s.History)
	}
}

func TestImportFoldsOtherDayIntoHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t, kv.NewMemoryStore(0), "2026-02-10")
	data := &service.ExportData{
		Version:    service.ExportVersion,
		LastUpdate: "2026-02-05",
		Entries:    []model.FoodEntry{{ID: "x", Name: "Rice", Calories: 400}, {ID: "y", Name: "Fish", Calories: 250}},
	}
	report, err := service.ImportState(ctx, l, data, service.ImportOptions{Mode: service.ImportModeSkip})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(report.Warnings) == 0 {
		t.Fatalf("expected a warning about archived entries")
	}
	s := l.Snapshot()
	if len(s.Entries) != 0 {
		t.Fatalf("expected no entries in today's log, got %d", len(s.Entries))
	}
	if s.History["2026-02-05"].Calories != 650 {
		t.Fatalf("expected 650 kcal archived for 2026-02-05, got %+v", s.History)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t, kv.NewMemoryStore(0), "2026-02-10")
	if _, err := service.ImportState(context.Background(), l, &service.ExportData{Version: 99}, service.ImportOptions{}); err == nil {
		t.Fatalf("expected version error")
	}
	if _, err := service.ImportState(context.Background(), l, &service.ExportData{Version: service.ExportVersion}, service.ImportOptions{Mode: "upsert"}); err == nil {
		t.Fatalf("expected mode error")
	}
	if _, err := service.ImportState(context.Background(), l, nil, service.ImportOptions{}); err == nil {
		t.Fatalf("expected error for nil data")
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	entries := []model.FoodEntry{{ID: "a", Name: "Tea, green", Calories: 2.5, ConsumedAt: day(t, "2026-02-10"), Source: model.SourceText}}
	if err := service.WriteEntriesCSV(&buf, entries); err != nil {
		t.Fatalf("write entries csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[1] != `a,"Tea, green",2.5,0,0,0,2026-02-10T12:00:00Z,text` {
		t.Fatalf("unexpected entries csv:\n%s", buf.String())
	}

	buf.Reset()
	history := map[string]model.DayTotals{"2026-02-09": {Calories: 1800}, "2026-02-01": {Calories: 2000}}
	if err := service.WriteHistoryCSV(&buf, history); err != nil {
		t.Fatalf("write history csv: %v", err)
	}
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "2026-02-01,") {
		t.Fatalf("expected history rows sorted by date:\n%s", buf.String())
	}
}
