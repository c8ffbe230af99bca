package service_test

import (
	"testing"

	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
)

func TestTodaySummaryRemainingAndPercent(t *testing.T) {
	t.Parallel()
	s := model.LedgerState{
		LastUpdate: "2026-02-10",
		Targets:    model.Targets{Calories: 2000, ProteinG: 150, CarbsG: 200, FatG: 70},
		Today:      model.DayTotals{Calories: 500, ProteinG: 160, CarbsG: 50, FatG: 0},
		Entries:    []model.FoodEntry{{ID: "a"}, {ID: "b"}},
	}
	status := service.TodaySummary(s)

	if status.Remaining.Calories != 1500 {
		t.Fatalf("expected 1500 kcal remaining, got %v", status.Remaining.Calories)
	}
	if status.Remaining.ProteinG != 0 {
		t.Fatalf("expected remaining protein floored at 0, got %v", status.Remaining.ProteinG)
	}
	if status.Percent.Calories != 25 {
		t.Fatalf("expected 25%% calories, got %v", status.Percent.Calories)
	}
	if status.Entries != 2 || status.HasProfile || status.OverTarget {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestTodaySummaryZeroTargets(t *testing.T) {
	t.Parallel()
	status := service.TodaySummary(model.LedgerState{Today: model.DayTotals{Calories: 300}})
	if status.Percent.Calories != 0 || status.Remaining.Calories != 0 || status.OverTarget {
		t.Fatalf("expected zero percent and remaining with no targets, got %+v", status)
	}
}

func TestTodaySummaryOverTarget(t *testing.T) {
	t.Parallel()
	status := service.TodaySummary(model.LedgerState{
		Targets: model.Targets{Calories: 1800},
		Today:   model.DayTotals{Calories: 2100},
	})
	if !status.OverTarget || status.Remaining.Calories != 0 {
		t.Fatalf("expected over target with nothing remaining, got %+v", status)
	}
}
