package dietweb

import (
	"encoding/json"
	"fmt"

	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the profile that drives calorie and macro targets",
}

var (
	profileSex        string
	profileHeight     float64
	profileWeight     float64
	profileAge        int
	profileBirthdate  string
	profileActivity   float64
	profileGoal       string
	profileStopper    string
	profileDiet       string
	profileAccomplish string
	profileJSON       bool
)

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the profile and recompute targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := model.Profile{
			Sex:        model.Sex(profileSex),
			HeightCm:   profileHeight,
			WeightKg:   profileWeight,
			Age:        profileAge,
			Birthdate:  profileBirthdate,
			Activity:   profileActivity,
			Goal:       model.Goal(profileGoal),
			Stopper:    profileStopper,
			Diet:       profileDiet,
			Accomplish: profileAccomplish,
		}
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			state, err := l.SetProfile(cmd.Context(), p)
			if err := checkStored(cmd, err); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile saved")
			printTargets(cmd, state.Targets)
			return nil
		})
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			state := l.Snapshot()
			if state.Profile == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Profile: not set (default targets)")
				return nil
			}
			if profileJSON {
				b, err := json.MarshalIndent(state.Profile, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal profile json: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			p := state.Profile
			fmt.Fprintf(cmd.OutOrStdout(), "Sex: %s\n", p.Sex)
			fmt.Fprintf(cmd.OutOrStdout(), "Height: %.1f cm\n", p.HeightCm)
			fmt.Fprintf(cmd.OutOrStdout(), "Weight: %.1f kg\n", p.WeightKg)
			if p.Birthdate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Age: %d (born %s)\n", p.Age, p.Birthdate)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Age: %d\n", p.Age)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activity: %.3g\n", p.Activity)
			fmt.Fprintf(cmd.OutOrStdout(), "Goal: %s\n", p.Goal)
			printTargets(cmd, state.Targets)
			return nil
		})
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show daily calorie and macro targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(_ *session, l *ledger.Ledger) error {
			state := l.Snapshot()
			if state.Profile == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Profile: not set (default targets)")
			}
			printTargets(cmd, state.Targets)
			return nil
		})
	},
}

func printTargets(cmd *cobra.Command, t model.Targets) {
	fmt.Fprintf(cmd.OutOrStdout(), "Targets: %.0f kcal | P %.0fg | C %.0fg | F %.0fg\n", t.Calories, t.ProteinG, t.CarbsG, t.FatG)
}

func init() {
	rootCmd.AddCommand(profileCmd, targetsCmd)
	profileCmd.AddCommand(profileSetCmd, profileShowCmd)

	profileSetCmd.Flags().StringVar(&profileSex, "sex", "", "male or female")
	profileSetCmd.Flags().Float64Var(&profileHeight, "height", 0, "Height in cm")
	profileSetCmd.Flags().Float64Var(&profileWeight, "weight", 0, "Weight in kg")
	profileSetCmd.Flags().IntVar(&profileAge, "age", 0, "Age in years (ignored when --birthdate is set)")
	profileSetCmd.Flags().StringVar(&profileBirthdate, "birthdate", "", "Birthdate YYYY-MM-DD")
	profileSetCmd.Flags().Float64Var(&profileActivity, "activity", 1.2, "Activity multiplier (1.2, 1.375, 1.55, 1.725, 1.9)")
	profileSetCmd.Flags().StringVar(&profileGoal, "goal", "maintain", "lose, maintain or gain")
	profileSetCmd.Flags().StringVar(&profileStopper, "stopper", "", "What has stopped you before (informational)")
	profileSetCmd.Flags().StringVar(&profileDiet, "diet", "", "Diet preference (informational)")
	profileSetCmd.Flags().StringVar(&profileAccomplish, "accomplish", "", "What you want to accomplish (informational)")
	_ = profileSetCmd.MarkFlagRequired("sex")
	_ = profileSetCmd.MarkFlagRequired("height")
	_ = profileSetCmd.MarkFlagRequired("weight")
	profileShowCmd.Flags().BoolVar(&profileJSON, "json", false, "Output JSON")
}
