// Package rates fetches exchange rates from an external quote API and
// serves them with a short-lived cache. Orders snapshot the rate at
// creation time, so staleness within the cache TTL is acceptable.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 10 * time.Second

// ClientConfig contains quote API settings.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client fetches quotes from the upstream rate API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quote API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("rates base url is required")
	}

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// latestResponse is the upstream quote payload. Rates are decoded as
// json.Number to avoid float round-tripping.
type latestResponse struct {
	Base  string                 `json:"base"`
	Rates map[string]json.Number `json:"rates"`
}

// FetchRates returns all quotes for the given base currency.
func (c *Client) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/latest?base=%s", c.baseURL, url.QueryEscape(base))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote api returned status %d", resp.StatusCode)
	}

	var payload latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rates response: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(payload.Rates))
	for symbol, raw := range payload.Rates {
		value, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, fmt.Errorf("bad rate for %s: %w", symbol, err)
		}
		result[symbol] = value
	}

	return result, nil
}
