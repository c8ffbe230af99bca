package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

func sampleState() model.LedgerState {
	at := time.Date(2026, 2, 10, 8, 0, 0, 0, time.Local)
	return model.LedgerState{
		Profile:    &model.Profile{Sex: model.SexMale},
		Targets:    model.Targets{Calories: 2000, ProteinG: 150, CarbsG: 200, FatG: 70},
		LastUpdate: "2026-02-10",
		Entries: []model.FoodEntry{
			{ID: "first", Name: "Oats", Calories: 300, ConsumedAt: at, Source: model.SourceManual},
			{ID: "second", Name: "Salmon", Calories: 450, ConsumedAt: at.Add(5 * time.Hour), Source: model.SourcePhoto},
		},
		Today: model.DayTotals{Calories: 750},
		History: map[string]model.DayTotals{
			"2026-02-10": {Calories: 750},
			"2026-02-09": {Calories: 1800},
			"2026-02-08": {Calories: 2100},
			"2026-02-01": {Calories: 1500},
		},
	}
}

func TestTextDisplayRendersNewestFirst(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := (TextDisplay{W: &buf}).Render(sampleState()); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Eaten: 750 / 2000 kcal (1250 left)") {
		t.Fatalf("missing totals line:\n%s", out)
	}
	if strings.Index(out, "Salmon") > strings.Index(out, "Oats") {
		t.Fatalf("expected newest entry first:\n%s", out)
	}
	if strings.Contains(out, "2026-02-09") {
		t.Fatalf("history should be hidden by default:\n%s", out)
	}
}

func TestTextDisplayHistoryAndEmptyLog(t *testing.T) {
	t.Parallel()
	s := sampleState()
	s.Entries = nil
	s.Today = model.DayTotals{Calories: 2300}
	s.Profile = nil

	var buf bytes.Buffer
	if err := (TextDisplay{W: &buf, HistoryDays: 2}).Render(s); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"No food logged today.", "over by 300", "Profile: not set", "2026-02-09\t1800", "2026-02-08\t2100"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "2026-02-01") {
		t.Fatalf("history should be limited to 2 days:\n%s", out)
	}
}

func TestTextDisplayDoesNotMutateState(t *testing.T) {
	t.Parallel()
	s := sampleState()
	before := s.Clone()
	if err := (TextDisplay{W: &bytes.Buffer{}, HistoryDays: 10}).Render(s); err != nil {
		t.Fatalf("render: %v", err)
	}
	if s.Entries[0].ID != before.Entries[0].ID || len(s.History) != len(before.History) {
		t.Fatalf("render mutated state")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestTextDisplayReportsWriteErrors(t *testing.T) {
	t.Parallel()
	if err := (TextDisplay{W: failingWriter{}}).Render(sampleState()); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestBar(t *testing.T) {
	t.Parallel()
	if got := bar(50, 10); got != "[#####.....]" {
		t.Fatalf("unexpected bar %q", got)
	}
	if got := bar(250, 4); got != "[####]" {
		t.Fatalf("expected capped bar, got %q", got)
	}
}
