package dietweb

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/spf13/cobra"
)

var foodCmd = &cobra.Command{
	Use:   "food",
	Short: "Log, edit, delete and list today's food entries",
}

var (
	foodCalories float64
	foodProtein  float64
	foodCarbs    float64
	foodFat      float64
	foodTime     string
	foodPhoto    string
	foodDescribe string
	foodName     string
	foodBarcode  string
	foodServings float64
)

var foodAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Log a food entry manually, from --barcode, or estimated from --photo or --describe",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		consumedAt, err := parseClock(foodTime)
		if err != nil {
			return err
		}
		estimating := foodPhoto != "" || strings.TrimSpace(foodDescribe) != ""
		scanning := strings.TrimSpace(foodBarcode) != ""
		if estimating && scanning {
			return fmt.Errorf("--barcode cannot be combined with --photo or --describe")
		}
		if !estimating && !scanning && strings.TrimSpace(name) == "" {
			return fmt.Errorf("name is required unless --photo, --describe or --barcode is set")
		}

		return withLedger(cmd, func(s *session, l *ledger.Ledger) error {
			entry := model.FoodEntry{
				Name:     name,
				Calories: foodCalories,
				ProteinG: foodProtein,
				CarbsG:   foodCarbs,
				FatG:     foodFat,
			}
			estimated := false
			if scanning {
				product, err := s.barcodes().LookupBarcode(cmd.Context(), foodBarcode)
				if err != nil {
					return err
				}
				entry = product.Entry(foodServings)
				if strings.TrimSpace(name) != "" {
					entry.Name = name
				}
			}
			if estimating {
				req := estimator.Request{Description: strings.TrimSpace(foodDescribe)}
				if foodPhoto != "" {
					img, err := os.ReadFile(foodPhoto)
					if err != nil {
						return fmt.Errorf("read photo: %w", err)
					}
					req.Image = img
					req.MIMEType = http.DetectContentType(img)
				}
				est, _ := s.gemini()
				entry, estimated = estimator.EstimateOrFallback(cmd.Context(), est, s.log, req, name, foodCalories)
			}
			entry.ConsumedAt = consumedAt

			saved, err := l.RecordFood(cmd.Context(), entry)
			if saved.ID == "" {
				return err
			}
			if err := checkStored(cmd, err); err != nil {
				return err
			}
			label := "Logged"
			if estimating && !estimated {
				label = "Logged (estimate unavailable)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %.0f kcal | P %.1fg | C %.1fg | F %.1fg [%s]\n",
				label, saved.Name, saved.Calories, saved.ProteinG, saved.CarbsG, saved.FatG, saved.ID)
			return nil
		})
	},
}

var foodEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a food entry from today's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			current, ok := findEntry(l.Snapshot(), args[0])
			if !ok {
				return fmt.Errorf("food entry %s not found in today's log", args[0])
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				current.Name = foodName
			}
			if flags.Changed("calories") {
				current.Calories = foodCalories
			}
			if flags.Changed("protein") {
				current.ProteinG = foodProtein
			}
			if flags.Changed("carbs") {
				current.CarbsG = foodCarbs
			}
			if flags.Changed("fat") {
				current.FatG = foodFat
			}
			if flags.Changed("time") {
				t, err := parseClock(foodTime)
				if err != nil {
					return err
				}
				current.ConsumedAt = t
			}
			if err := checkStored(cmd, l.EditFood(cmd.Context(), current.ID, current)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", current.ID)
			return nil
		})
	},
}

var foodDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a food entry from today's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			if _, ok := findEntry(l.Snapshot(), args[0]); !ok {
				return fmt.Errorf("food entry %s not found in today's log", args[0])
			}
			if err := checkStored(cmd, l.DeleteFood(cmd.Context(), args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

var foodListCmd = &cobra.Command{
	Use:   "list",
	Short: "List today's food entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			entries := l.Snapshot().Entries
			fmt.Fprintln(cmd.OutOrStdout(), "ID\tTIME\tNAME\tKCAL\tP\tC\tF\tSOURCE")
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%.0f\t%.1f\t%.1f\t%.1f\t%s\n",
					e.ID, e.ConsumedAt.Local().Format(time.Kitchen), e.Name, e.Calories, e.ProteinG, e.CarbsG, e.FatG, e.Source)
			}
			return nil
		})
	},
}

func findEntry(s model.LedgerState, id string) (model.FoodEntry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return model.FoodEntry{}, false
}

func init() {
	rootCmd.AddCommand(foodCmd)
	foodCmd.AddCommand(foodAddCmd, foodEditCmd, foodDeleteCmd, foodListCmd)

	for _, c := range []*cobra.Command{foodAddCmd, foodEditCmd} {
		c.Flags().Float64Var(&foodCalories, "calories", 0, "Calories (kcal)")
		c.Flags().Float64Var(&foodProtein, "protein", 0, "Protein grams")
		c.Flags().Float64Var(&foodCarbs, "carbs", 0, "Carb grams")
		c.Flags().Float64Var(&foodFat, "fat", 0, "Fat grams")
		c.Flags().StringVar(&foodTime, "time", "", "Time eaten today HH:MM (default now)")
	}
	foodAddCmd.Flags().StringVar(&foodPhoto, "photo", "", "Meal photo to estimate from")
	foodAddCmd.Flags().StringVar(&foodDescribe, "describe", "", "Meal description to estimate from")
	foodAddCmd.Flags().StringVar(&foodBarcode, "barcode", "", "Packaged food barcode to look up on Open Food Facts")
	foodAddCmd.Flags().Float64Var(&foodServings, "servings", 1, "Servings of the barcode product")
	foodEditCmd.Flags().StringVar(&foodName, "name", "", "New name")
}
