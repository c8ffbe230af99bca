package estimator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/sethvargo/go-retry"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
)

const estimatePrompt = `Analyze this meal as precisely as possible.
1. Name the specific dish or main product (for example "Salmon steak", not "Lunch").
2. Estimate the portion size.
3. Estimate calories (kcal), protein (g), fats (g) and carbohydrates (g).

Reply with JSON only, no extra text:
{"name": "Dish name", "calories": 450, "protein": 25, "carbs": 5, "fats": 35}`

// GeminiClient calls the generateContent endpoint of the Gemini API.
type GeminiClient struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Retry      RetryPolicy
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gemini request failed with status %d", e.Status)
}

func (e *statusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (c *GeminiClient) Estimate(ctx context.Context, req Request) (Estimate, error) {
	kind := req.Kind()
	started := time.Now()
	defer func() {
		metrics.EstimatorLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}()

	parts := []part{{Text: estimatePrompt}}
	switch {
	case len(req.Image) > 0:
		mime := strings.TrimSpace(req.MIMEType)
		if mime == "" {
			mime = http.DetectContentType(req.Image)
		}
		parts = append(parts, part{InlineData: &inlineData{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(req.Image)}})
	case strings.TrimSpace(req.Description) != "":
		parts = append(parts, part{Text: "Meal description: " + strings.TrimSpace(req.Description)})
	default:
		return Estimate{}, fmt.Errorf("estimate request needs an image or a description")
	}

	text, err := c.generate(ctx, parts)
	if err != nil {
		metrics.EstimatorRequests.WithLabelValues(kind, "error").Inc()
		return Estimate{}, err
	}
	var out Estimate
	if err := decodeModelJSON(text, &out); err != nil {
		metrics.EstimatorRequests.WithLabelValues(kind, "error").Inc()
		return Estimate{}, err
	}
	if err := validateEstimate(out); err != nil {
		metrics.EstimatorRequests.WithLabelValues(kind, "error").Inc()
		return Estimate{}, err
	}
	out.Name = strings.TrimSpace(out.Name)
	metrics.EstimatorRequests.WithLabelValues(kind, "ok").Inc()
	return out, nil
}

// generate sends one prompt and returns the first candidate's text, retrying
// transport failures, 429 and 5xx per the retry policy.
func (c *GeminiClient) generate(ctx context.Context, parts []part) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", fmt.Errorf("missing Gemini API key")
	}
	payload, err := json.Marshal(generateRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return "", fmt.Errorf("marshal Gemini payload: %w", err)
	}

	var text string
	err = retry.Do(ctx, c.Retry.backoff(), func(ctx context.Context) error {
		out, err := c.post(ctx, payload)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && !se.retryable() {
				return err
			}
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) post(ctx context.Context, payload []byte) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := strings.TrimSpace(c.Model)
	if modelName == "" {
		modelName = DefaultModel
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", baseURL, url.PathEscape(modelName), url.QueryEscape(c.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create Gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute Gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read Gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode Gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 ||
		strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text) == "" {
		return "", fmt.Errorf("gemini response has no text candidate: %w", ErrNoEstimate)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// decodeModelJSON strips markdown code fences the model tends to add.
func decodeModelJSON(text string, out any) error {
	clean := strings.NewReplacer("```json", "", "```JSON", "", "```", "").Replace(text)
	clean = strings.TrimSpace(clean)
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("decode model output %q: %v: %w", truncate(clean, 120), err, ErrNoEstimate)
	}
	return nil
}

func validateEstimate(e Estimate) error {
	for name, v := range map[string]float64{"calories": e.Calories, "protein": e.Protein, "carbs": e.Carbs, "fats": e.Fats} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("estimate has invalid %s %v: %w", name, v, ErrNoEstimate)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
