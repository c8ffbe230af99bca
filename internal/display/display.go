// Package display renders ledger snapshots. Renderers only read the state
// they are given.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
)

type Display interface {
	Render(s model.LedgerState) error
}

// TextDisplay prints today's block followed by the food log, newest first.
type TextDisplay struct {
	W io.Writer
	// HistoryDays limits the trailing history table; 0 hides it.
	HistoryDays int
}

func (d TextDisplay) Render(s model.LedgerState) error {
	var b strings.Builder
	status := service.TodaySummary(s)

	fmt.Fprintf(&b, "Date: %s\n", status.Date)
	fmt.Fprintf(&b, "Eaten: %.0f / %.0f kcal (%s)\n", status.Eaten.Calories, status.Targets.Calories, leftLabel(status))
	fmt.Fprintf(&b, "Protein: %.1f / %.0f g | Carbs: %.1f / %.0f g | Fat: %.1f / %.0f g\n",
		status.Eaten.ProteinG, status.Targets.ProteinG,
		status.Eaten.CarbsG, status.Targets.CarbsG,
		status.Eaten.FatG, status.Targets.FatG)
	fmt.Fprintf(&b, "Progress: %s %.0f%%\n", bar(status.Percent.Calories, 20), status.Percent.Calories)
	if !status.HasProfile {
		b.WriteString("Profile: not set (default targets)\n")
	}

	b.WriteString("\n")
	if len(s.Entries) == 0 {
		b.WriteString("No food logged today.\n")
	} else {
		b.WriteString("time\tname\tkcal\tprotein\tcarbs\tfat\tsource\tid\n")
		for i := len(s.Entries) - 1; i >= 0; i-- {
			e := s.Entries[i]
			fmt.Fprintf(&b, "%s\t%s\t%.0f\t%.1f\t%.1f\t%.1f\t%s\t%s\n",
				e.ConsumedAt.Local().Format("15:04"), e.Name, e.Calories, e.ProteinG, e.CarbsG, e.FatG, e.Source, e.ID)
		}
	}

	if d.HistoryDays > 0 {
		days := recentDays(s, d.HistoryDays)
		if len(days) > 0 {
			b.WriteString("\ndate\tkcal\tprotein\tcarbs\tfat\n")
			for _, day := range days {
				t := s.History[day]
				fmt.Fprintf(&b, "%s\t%.0f\t%.1f\t%.1f\t%.1f\n", day, t.Calories, t.ProteinG, t.CarbsG, t.FatG)
			}
		}
	}

	if _, err := io.WriteString(d.W, b.String()); err != nil {
		return fmt.Errorf("render ledger: %w", err)
	}
	return nil
}

func leftLabel(status service.TodayStatus) string {
	if status.OverTarget {
		return fmt.Sprintf("over by %.0f", status.Eaten.Calories-status.Targets.Calories)
	}
	return fmt.Sprintf("%.0f left", status.Remaining.Calories)
}

func bar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// recentDays returns up to n archived days before the open day, newest first.
func recentDays(s model.LedgerState, n int) []string {
	days := make([]string, 0, len(s.History))
	for day := range s.History {
		if day != s.LastUpdate {
			days = append(days, day)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > n {
		days = days[:n]
	}
	return days
}
