package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

// DefaultTolerance is the macro adherence band used when none is configured.
const DefaultTolerance = 0.10

type DaySummary struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein_g"`
	Carbs    float64 `json:"carbs_g"`
	Fat      float64 `json:"fat_g"`
}

type HistoryReport struct {
	FromDate              string           `json:"from_date"`
	ToDate                string           `json:"to_date"`
	TotalCalories         float64          `json:"total_calories"`
	TotalProtein          float64          `json:"total_protein_g"`
	TotalCarbs            float64          `json:"total_carbs_g"`
	TotalFat              float64          `json:"total_fat_g"`
	DaysWithEntries       int              `json:"days_with_entries"`
	AverageCaloriesPerDay float64          `json:"avg_calories_per_day"`
	AverageProteinPerDay  float64          `json:"avg_protein_per_day"`
	AverageCarbsPerDay    float64          `json:"avg_carbs_per_day"`
	AverageFatPerDay      float64          `json:"avg_fat_per_day"`
	HighestDay            *DaySummary      `json:"highest_day,omitempty"`
	LowestDay             *DaySummary      `json:"lowest_day,omitempty"`
	Adherence             AdherenceSummary `json:"adherence"`
	Days                  []DaySummary     `json:"days"`
}

type AdherenceSummary struct {
	EvaluatedDays  int     `json:"evaluated_days"`
	WithinGoalDays int     `json:"within_goal_days"`
	PercentWithin  float64 `json:"percent_within_goal"`
}

// HistoryRange reports on the archived days in [from, to]. Days whose totals
// are all zero are skipped. Adherence is judged against the current targets
// since the archive does not keep per-day targets.
func HistoryRange(s model.LedgerState, from, to time.Time, tolerance float64) (*HistoryReport, error) {
	fromDay := from.Format(model.DateLayout)
	toDay := to.Format(model.DateLayout)
	if fromDay > toDay {
		return nil, fmt.Errorf("from date must be <= to date")
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("tolerance must be >= 0")
	}

	report := &HistoryReport{FromDate: fromDay, ToDate: toDay}
	days := make([]DaySummary, 0)
	for day, totals := range s.History {
		if day < fromDay || day > toDay || totals.IsZero() {
			continue
		}
		days = append(days, DaySummary{
			Date:     day,
			Calories: totals.Calories,
			Protein:  totals.ProteinG,
			Carbs:    totals.CarbsG,
			Fat:      totals.FatG,
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	report.Days = days
	report.DaysWithEntries = len(days)

	for i := range days {
		report.TotalCalories += days[i].Calories
		report.TotalProtein += days[i].Protein
		report.TotalCarbs += days[i].Carbs
		report.TotalFat += days[i].Fat
	}
	if report.DaysWithEntries > 0 {
		div := float64(report.DaysWithEntries)
		report.AverageCaloriesPerDay = report.TotalCalories / div
		report.AverageProteinPerDay = report.TotalProtein / div
		report.AverageCarbsPerDay = report.TotalCarbs / div
		report.AverageFatPerDay = report.TotalFat / div
		report.HighestDay, report.LowestDay = extremeDays(days)
	}
	report.Adherence = calculateAdherence(days, s.Targets, tolerance)
	return report, nil
}

// LastDays is the range ending today covering n calendar days.
func LastDays(today time.Time, n int) (time.Time, time.Time) {
	if n < 1 {
		n = 1
	}
	return today.AddDate(0, 0, -(n - 1)), today
}

func calculateAdherence(days []DaySummary, targets model.Targets, tolerance float64) AdherenceSummary {
	out := AdherenceSummary{}
	for _, d := range days {
		out.EvaluatedDays++
		if d.Calories <= targets.Calories &&
			AdherenceWithin(d.Protein, targets.ProteinG, tolerance) &&
			AdherenceWithin(d.Carbs, targets.CarbsG, tolerance) &&
			AdherenceWithin(d.Fat, targets.FatG, tolerance) {
			out.WithinGoalDays++
		}
	}
	if out.EvaluatedDays > 0 {
		out.PercentWithin = (float64(out.WithinGoalDays) / float64(out.EvaluatedDays)) * 100
	}
	return out
}

func AdherenceWithin(actual float64, target float64, tolerance float64) bool {
	if target == 0 {
		return actual == 0
	}
	lower := target * (1 - tolerance)
	upper := target * (1 + tolerance)
	return actual >= lower && actual <= upper
}

func extremeDays(days []DaySummary) (*DaySummary, *DaySummary) {
	if len(days) == 0 {
		return nil, nil
	}
	copied := make([]DaySummary, len(days))
	copy(copied, days)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Calories < copied[j].Calories
	})
	low := copied[0]
	high := copied[len(copied)-1]
	return &high, &low
}
