package service

import (
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

type TodayStatus struct {
	Date       string          `json:"date"`
	Eaten      model.DayTotals `json:"eaten"`
	Targets    model.Targets   `json:"targets"`
	Remaining  model.DayTotals `json:"remaining"`
	Percent    model.DayTotals `json:"percent"`
	Entries    int             `json:"entries"`
	HasProfile bool            `json:"has_profile"`
	OverTarget bool            `json:"over_target"`
}

// TodaySummary derives the dashboard numbers from a ledger snapshot.
// Remaining values never go below zero; percentages are uncapped.
func TodaySummary(s model.LedgerState) TodayStatus {
	status := TodayStatus{
		Date:       s.LastUpdate,
		Eaten:      s.Today,
		Targets:    s.Targets,
		Entries:    len(s.Entries),
		HasProfile: s.Profile != nil,
	}
	status.Remaining = model.DayTotals{
		Calories: remaining(s.Targets.Calories, s.Today.Calories),
		ProteinG: remaining(s.Targets.ProteinG, s.Today.ProteinG),
		CarbsG:   remaining(s.Targets.CarbsG, s.Today.CarbsG),
		FatG:     remaining(s.Targets.FatG, s.Today.FatG),
	}
	status.Percent = model.DayTotals{
		Calories: percentOf(s.Today.Calories, s.Targets.Calories),
		ProteinG: percentOf(s.Today.ProteinG, s.Targets.ProteinG),
		CarbsG:   percentOf(s.Today.CarbsG, s.Targets.CarbsG),
		FatG:     percentOf(s.Today.FatG, s.Targets.FatG),
	}
	status.OverTarget = s.Targets.Calories > 0 && s.Today.Calories > s.Targets.Calories
	return status
}

func remaining(target, eaten float64) float64 {
	if eaten >= target {
		return 0
	}
	return target - eaten
}

func percentOf(actual, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return actual / target * 100
}
