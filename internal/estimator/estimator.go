// Package estimator turns a meal photo or description into a calorie and
// macro estimate using a generative model.
package estimator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/sethvargo/go-retry"
)

// DefaultMealName labels fallback entries logged without a name.
const DefaultMealName = "Meal"

var ErrNoEstimate = errors.New("estimator: no usable estimate")

// Request carries either a text description or an image.
type Request struct {
	Description string
	Image       []byte
	MIMEType    string
}

func (r Request) Kind() string {
	if len(r.Image) > 0 {
		return model.SourcePhoto
	}
	return model.SourceText
}

type Estimate struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// Entry converts the estimate into a loggable food entry.
func (e Estimate) Entry(source string) model.FoodEntry {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = DefaultMealName
	}
	return model.FoodEntry{
		Name:     name,
		Calories: e.Calories,
		ProteinG: e.Protein,
		CarbsG:   e.Carbs,
		FatG:     e.Fats,
		Source:   source,
	}
}

type Estimator interface {
	Estimate(ctx context.Context, req Request) (Estimate, error)
}

// RetryPolicy bounds estimator retries. Delays grow exponentially from
// BaseDelay.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	return retry.WithMaxRetries(attempts-1, retry.NewExponential(base))
}

// FallbackEntry is logged when estimation fails: the user's name and
// calories with zero macros.
func FallbackEntry(name string, calories float64, source string) model.FoodEntry {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultMealName
	}
	if calories < 0 {
		calories = 0
	}
	return model.FoodEntry{Name: name, Calories: calories, Source: source}
}

// EstimateOrFallback never fails: when est errors the fallback entry is
// returned and ok is false. A user-supplied name overrides the estimated one.
func EstimateOrFallback(ctx context.Context, est Estimator, log logging.Logger, req Request, name string, calories float64) (entry model.FoodEntry, ok bool) {
	source := req.Kind()
	if est == nil {
		metrics.EstimatorRequests.WithLabelValues(source, "fallback").Inc()
		return FallbackEntry(name, calories, source), false
	}
	got, err := est.Estimate(ctx, req)
	if err != nil {
		log.Warn(ctx, "meal estimate failed, logging fallback entry", "source", source, "error", err)
		metrics.EstimatorRequests.WithLabelValues(source, "fallback").Inc()
		return FallbackEntry(name, calories, source), false
	}
	entry = got.Entry(source)
	if strings.TrimSpace(name) != "" {
		entry.Name = strings.TrimSpace(name)
	}
	return entry, true
}
