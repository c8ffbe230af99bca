package estimator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

type Tip struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

// DefaultTips are shown whenever the model cannot produce advice.
var DefaultTips = []Tip{
	{Icon: "🥗", Text: "Keep an eye on your macro balance every day"},
	{Icon: "💧", Text: "Drink enough water"},
	{Icon: "🏃", Text: "Try to move more"},
	{Icon: "😴", Text: "Keep a regular sleep schedule"},
}

// Tips asks the model for four short pieces of advice for the profile.
func (c *GeminiClient) Tips(ctx context.Context, p model.Profile, t model.Targets) ([]Tip, error) {
	text, err := c.generate(ctx, []part{{Text: tipsPrompt(p, t)}})
	if err != nil {
		metrics.EstimatorRequests.WithLabelValues("tips", "error").Inc()
		return nil, err
	}
	var tips []Tip
	if err := decodeModelJSON(text, &tips); err != nil {
		metrics.EstimatorRequests.WithLabelValues("tips", "error").Inc()
		return nil, err
	}
	out := make([]Tip, 0, len(tips))
	for _, tip := range tips {
		if strings.TrimSpace(tip.Text) == "" {
			continue
		}
		out = append(out, Tip{Icon: strings.TrimSpace(tip.Icon), Text: strings.TrimSpace(tip.Text)})
	}
	if len(out) == 0 {
		metrics.EstimatorRequests.WithLabelValues("tips", "error").Inc()
		return nil, fmt.Errorf("model returned no tips: %w", ErrNoEstimate)
	}
	metrics.EstimatorRequests.WithLabelValues("tips", "ok").Inc()
	return out, nil
}

type TipSource interface {
	Tips(ctx context.Context, p model.Profile, t model.Targets) ([]Tip, error)
}

// TipsOrDefault falls back to DefaultTips on any failure.
func TipsOrDefault(ctx context.Context, src TipSource, log logging.Logger, p model.Profile, t model.Targets) []Tip {
	if src == nil {
		return append([]Tip(nil), DefaultTips...)
	}
	tips, err := src.Tips(ctx, p, t)
	if err != nil {
		log.Warn(ctx, "tips request failed, using defaults", "error", err)
		metrics.EstimatorRequests.WithLabelValues("tips", "fallback").Inc()
		return append([]Tip(nil), DefaultTips...)
	}
	return tips
}

func tipsPrompt(p model.Profile, t model.Targets) string {
	var b strings.Builder
	b.WriteString("User:\n")
	fmt.Fprintf(&b, "- Sex: %s\n", p.Sex)
	fmt.Fprintf(&b, "- Weight: %g kg\n", p.WeightKg)
	fmt.Fprintf(&b, "- Height: %g cm\n", p.HeightCm)
	fmt.Fprintf(&b, "- Age: %d\n", p.Age)
	fmt.Fprintf(&b, "- Goal: %s\n", p.Goal)
	if p.Stopper != "" {
		fmt.Fprintf(&b, "- Obstacle: %s\n", p.Stopper)
	}
	if p.Diet != "" {
		fmt.Fprintf(&b, "- Diet: %s\n", p.Diet)
	}
	if p.Accomplish != "" {
		fmt.Fprintf(&b, "- Wants to accomplish: %s\n", p.Accomplish)
	}
	fmt.Fprintf(&b, "\nDaily target: %.0f kcal, protein %.0f g, fats %.0f g, carbs %.0f g.\n\n", t.Calories, t.ProteinG, t.FatG, t.CarbsG)
	b.WriteString(`Give 4 short, concrete tips to reach the goal based on these answers.
Return ONLY a JSON array of objects with fields "icon" (an emoji) and "text" (tip, up to 60 characters).
Example: [{"icon": "🥑", "text": "Eat more healthy fats"}]`)
	return b.String()
}
