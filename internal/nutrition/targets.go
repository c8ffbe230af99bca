package nutrition

import (
	"fmt"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/shopspring/decimal"
)

// ActivityMultipliers are the accepted TDEE multipliers, from sedentary to
// very active.
var ActivityMultipliers = []float64{1.2, 1.375, 1.55, 1.725, 1.9}

// Goal adjustments in kcal applied to TDEE.
const (
	LoseAdjustment     = -500
	MaintainAdjustment = 0
	GainAdjustment     = 300
)

var (
	proteinShare = decimal.NewFromFloat(0.3)
	fatShare     = decimal.NewFromFloat(0.3)
	carbsShare   = decimal.NewFromFloat(0.4)
	kcalPerGramP = decimal.NewFromInt(4)
	kcalPerGramC = decimal.NewFromInt(4)
	kcalPerGramF = decimal.NewFromInt(9)
)

// BMR returns the Mifflin-St Jeor basal metabolic rate.
func BMR(p model.Profile) decimal.Decimal {
	bmr := decimal.NewFromInt(10).Mul(decimal.NewFromFloat(p.WeightKg)).
		Add(decimal.NewFromFloat(6.25).Mul(decimal.NewFromFloat(p.HeightCm))).
		Sub(decimal.NewFromInt(5).Mul(decimal.NewFromInt(int64(p.Age))))
	if p.Sex == model.SexFemale {
		return bmr.Sub(decimal.NewFromInt(161))
	}
	return bmr.Add(decimal.NewFromInt(5))
}

// TDEE returns BMR scaled by the activity multiplier, unrounded.
func TDEE(p model.Profile) decimal.Decimal {
	return BMR(p).Mul(decimal.NewFromFloat(p.Activity))
}

func GoalAdjustment(g model.Goal) int64 {
	switch g {
	case model.GoalLose:
		return LoseAdjustment
	case model.GoalGain:
		return GainAdjustment
	default:
		return MaintainAdjustment
	}
}

// ComputeTargets derives daily targets from a profile. Rounding happens once
// for calories and once per macro; intermediate terms stay exact.
func ComputeTargets(p model.Profile) model.Targets {
	calories := TDEE(p).Add(decimal.NewFromInt(GoalAdjustment(p.Goal))).Round(0)
	if calories.IsNegative() {
		calories = decimal.Zero
	}
	return model.Targets{
		Calories: calories.InexactFloat64(),
		ProteinG: calories.Mul(proteinShare).Div(kcalPerGramP).Round(0).InexactFloat64(),
		FatG:     calories.Mul(fatShare).Div(kcalPerGramF).Round(0).InexactFloat64(),
		CarbsG:   calories.Mul(carbsShare).Div(kcalPerGramC).Round(0).InexactFloat64(),
	}
}

// AgeOn returns full years between birthdate and day.
func AgeOn(birthdate string, day time.Time) (int, error) {
	born, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(birthdate), day.Location())
	if err != nil {
		return 0, fmt.Errorf("invalid birthdate %q (expected YYYY-MM-DD)", birthdate)
	}
	age := day.Year() - born.Year()
	if day.Before(born.AddDate(age, 0, 0)) {
		age--
	}
	if age < 0 || age > 130 {
		return 0, fmt.Errorf("birthdate %q gives implausible age %d", birthdate, age)
	}
	return age, nil
}

// NormalizeProfile validates p and fills Age from Birthdate when present.
func NormalizeProfile(p model.Profile, today time.Time) (model.Profile, error) {
	p.Sex = model.Sex(strings.TrimSpace(strings.ToLower(string(p.Sex))))
	if p.Sex != model.SexMale && p.Sex != model.SexFemale {
		return p, fmt.Errorf("sex must be %q or %q", model.SexMale, model.SexFemale)
	}
	if err := validatePositive("height", p.HeightCm); err != nil {
		return p, err
	}
	if err := validatePositive("weight", p.WeightKg); err != nil {
		return p, err
	}
	p.Birthdate = strings.TrimSpace(p.Birthdate)
	if p.Birthdate != "" {
		age, err := AgeOn(p.Birthdate, today)
		if err != nil {
			return p, err
		}
		p.Age = age
	}
	if p.Age < 0 {
		return p, fmt.Errorf("age must be >= 0")
	}
	if !ValidActivity(p.Activity) {
		return p, fmt.Errorf("activity must be one of %v", ActivityMultipliers)
	}
	p.Goal = model.Goal(strings.TrimSpace(strings.ToLower(string(p.Goal))))
	if p.Goal == "" {
		p.Goal = model.GoalMaintain
	}
	switch p.Goal {
	case model.GoalLose, model.GoalMaintain, model.GoalGain:
	default:
		return p, fmt.Errorf("goal must be lose, maintain or gain")
	}
	return p, nil
}

func ValidActivity(v float64) bool {
	for _, m := range ActivityMultipliers {
		if v == m {
			return true
		}
	}
	return false
}

func validatePositive(name string, value float64) error {
	if value <= 0 {
		return fmt.Errorf("%s must be > 0", name)
	}
	return nil
}
