// Package openfoodfacts looks up packaged foods by barcode so they can be
// logged without an estimate.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

const defaultBaseURL = "https://world.openfoodfacts.org"

var (
	ErrProductNotFound = errors.New("openfoodfacts: product not found")
	ErrInvalidBarcode  = errors.New("openfoodfacts: invalid barcode")
)

// Product holds nutrition for one serving.
type Product struct {
	Name          string  `json:"name"`
	Brand         string  `json:"brand,omitempty"`
	ServingAmount float64 `json:"serving_amount"`
	ServingUnit   string  `json:"serving_unit"`
	Calories      float64 `json:"calories"`
	ProteinG      float64 `json:"protein_g"`
	CarbsG        float64 `json:"carbs_g"`
	FatG          float64 `json:"fat_g"`
}

// Entry scales the product to servings. Non-positive servings count as one.
func (p Product) Entry(servings float64) model.FoodEntry {
	if servings <= 0 {
		servings = 1
	}
	name := p.Name
	if p.Brand != "" {
		name = p.Brand + " " + p.Name
	}
	return model.FoodEntry{
		Name:     name,
		Calories: math.Round(p.Calories * servings),
		ProteinG: round1(p.ProteinG * servings),
		CarbsG:   round1(p.CarbsG * servings),
		FatG:     round1(p.FatG * servings),
		Source:   model.SourceBarcode,
	}
}

type Lookup interface {
	LookupBarcode(ctx context.Context, barcode string) (Product, error)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) LookupBarcode(ctx context.Context, barcode string) (Product, error) {
	barcode = strings.TrimSpace(barcode)
	if !validBarcode(barcode) {
		return Product{}, fmt.Errorf("%w %q (expected 8 to 14 digits)", ErrInvalidBarcode, barcode)
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	url := fmt.Sprintf("%s/api/v2/product/%s.json", base, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Product{}, fmt.Errorf("create openfoodfacts request: %w", err)
	}
	req.Header.Set("User-Agent", "dietweb/1.0 (+https://github.com/pcrpg2df4s-blip/dietweb)")

	resp, err := httpClient.Do(req)
	if err != nil {
		metrics.EstimatorRequests.WithLabelValues("barcode", "error").Inc()
		return Product{}, fmt.Errorf("execute openfoodfacts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Product{}, fmt.Errorf("read openfoodfacts response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		metrics.EstimatorRequests.WithLabelValues("barcode", "missing").Inc()
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, barcode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.EstimatorRequests.WithLabelValues("barcode", "error").Inc()
		return Product{}, fmt.Errorf("openfoodfacts request failed with status %d", resp.StatusCode)
	}

	var parsed offResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.EstimatorRequests.WithLabelValues("barcode", "error").Inc()
		return Product{}, fmt.Errorf("decode openfoodfacts response: %w", err)
	}
	if parsed.Status != 1 || strings.TrimSpace(parsed.Product.ProductName) == "" {
		metrics.EstimatorRequests.WithLabelValues("barcode", "missing").Inc()
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, barcode)
	}

	p := parsed.Product
	amount, unit := parseServing(p)
	n := p.Nutriments
	metrics.EstimatorRequests.WithLabelValues("barcode", "ok").Inc()
	return Product{
		Name:          strings.TrimSpace(p.ProductName),
		Brand:         firstBrand(p.Brands),
		ServingAmount: amount,
		ServingUnit:   unit,
		Calories:      nutrientValue(n, "energy-kcal", amount),
		ProteinG:      nutrientValue(n, "proteins", amount),
		CarbsG:        nutrientValue(n, "carbohydrates", amount),
		FatG:          nutrientValue(n, "fat", amount),
	}, nil
}

func validBarcode(s string) bool {
	if len(s) < 8 || len(s) > 14 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// nutrientValue prefers the per-serving figure and otherwise scales the
// per-100g one to the serving amount.
func nutrientValue(n map[string]any, base string, servingAmount float64) float64 {
	if v, ok := parseFloatAny(n[base+"_serving"]); ok {
		return v
	}
	if v, ok := parseFloatAny(n[base+"_100g"]); ok {
		return v * servingAmount / 100
	}
	return 0
}

func parseFloatAny(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseServing(p offProduct) (float64, string) {
	if p.ServingQuantity > 0 {
		unit := strings.TrimSpace(p.ServingQuantityUnit)
		if unit == "" {
			unit = "g"
		}
		return p.ServingQuantity, unit
	}
	if strings.TrimSpace(p.ServingSize) != "" {
		parts := strings.Fields(strings.TrimSpace(p.ServingSize))
		if len(parts) >= 2 {
			if val, err := strconv.ParseFloat(strings.ReplaceAll(parts[0], ",", "."), 64); err == nil && val > 0 {
				return val, parts[1]
			}
		}
	}
	return 100, "g"
}

func firstBrand(brands string) string {
	first, _, _ := strings.Cut(brands, ",")
	return strings.TrimSpace(first)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

type offResponse struct {
	Status  int        `json:"status"`
	Product offProduct `json:"product"`
}

type offProduct struct {
	ProductName         string         `json:"product_name"`
	Brands              string         `json:"brands"`
	ServingSize         string         `json:"serving_size"`
	ServingQuantity     float64        `json:"serving_quantity"`
	ServingQuantityUnit string         `json:"serving_quantity_unit"`
	Nutriments          map[string]any `json:"nutriments"`
}
