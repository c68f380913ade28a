// Package nutrient looks up calories and macronutrients for free-text food
// descriptions, caching results in the key-value store.
package nutrient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNoResults is returned when the provider knows no food for the query.
var ErrNoResults = errors.New("no nutrition data found")

// Macros is the nutrient summary of one food.
type Macros struct {
	Food     string  `json:"food"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// Searcher resolves a food description to its macros.
type Searcher interface {
	Search(ctx context.Context, food string) (Macros, error)
}

// Client queries a Nutritionix-style natural language nutrients endpoint.
type Client struct {
	baseURL string
	appID   string
	appKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a client for the endpoint at baseURL.
func NewClient(baseURL, appID, appKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		appID:   appID,
		appKey:  appKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nutrition_api",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoResults)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type nutrientsResponse struct {
	Foods []struct {
		FoodName          string  `json:"food_name"`
		Calories          float64 `json:"nf_calories"`
		Protein           float64 `json:"nf_protein"`
		TotalCarbohydrate float64 `json:"nf_total_carbohydrate"`
		TotalFat          float64 `json:"nf_total_fat"`
	} `json:"foods"`
}

// Search returns the macros of the first food the provider matches.
func (c *Client) Search(ctx context.Context, food string) (Macros, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.search(ctx, food)
	})
	if err != nil {
		return Macros{}, err
	}
	return out.(Macros), nil
}

func (c *Client) search(ctx context.Context, food string) (Macros, error) {
	body, err := json.Marshal(map[string]string{"query": food})
	if err != nil {
		return Macros{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Macros{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-app-id", c.appID)
	req.Header.Set("x-app-key", c.appKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Macros{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	// The provider answers 404 when it cannot match the query.
	if resp.StatusCode == http.StatusNotFound {
		return Macros{}, fmt.Errorf("%w for %q", ErrNoResults, food)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Macros{}, fmt.Errorf("nutrition API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed nutrientsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Macros{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(parsed.Foods) == 0 {
		return Macros{}, fmt.Errorf("%w for %q", ErrNoResults, food)
	}

	f := parsed.Foods[0]
	name := f.FoodName
	if name == "" {
		name = food
	}
	return Macros{
		Food:     name,
		Calories: f.Calories,
		Protein:  f.Protein,
		Carbs:    f.TotalCarbohydrate,
		Fat:      f.TotalFat,
	}, nil
}
