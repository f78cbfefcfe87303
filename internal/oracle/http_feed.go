package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const feedTimeout = 5 * time.Second

// HTTPFeed reads {"price": "1.0003", "updated_at": "2026-01-02T15:04:05Z"} from a URL.
type HTTPFeed struct {
	URL        string
	HTTPClient *http.Client
}

func NewHTTPFeed(url string) *HTTPFeed {
	return &HTTPFeed{URL: url, HTTPClient: &http.Client{Timeout: feedTimeout}}
}

type feedResponse struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (f *HTTPFeed) LatestPrice(ctx context.Context) (decimal.Decimal, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, time.Time{}, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}
	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("decode price feed: %w", err)
	}
	return body.Price, body.UpdatedAt, nil
}
