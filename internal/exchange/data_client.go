package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"polymarket-copytrader/internal/observability"
)

// PositionsSource provides the holdings of an arbitrary wallet.
type PositionsSource interface {
	// GetUserPositions returns the wallet's current positions with
	// positive share counts.
	GetUserPositions(ctx context.Context, wallet string) ([]UserPosition, error)
}

// DataClient implements PositionsSource against the public data API.
type DataClient struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// DataClientOption configures DataClient.
type DataClientOption func(*DataClient)

// WithDataHTTPClient sets custom http.Client.
func WithDataHTTPClient(client *http.Client) DataClientOption {
	return func(c *DataClient) {
		c.client = client
	}
}

// WithDataLimiter overrides the request token bucket.
func WithDataLimiter(rps float64, burst int) DataClientOption {
	return func(c *DataClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewDataClient creates a data API client.
func NewDataClient(endpoint string, opts ...DataClientOption) *DataClient {
	c := &DataClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(DefaultDataRPS), DefaultDataBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ PositionsSource = (*DataClient)(nil)

// positionPayload mirrors the data API position record.
type positionPayload struct {
	ConditionID string  `json:"conditionId"`
	Asset       string  `json:"asset"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
}

// GetUserPositions returns the wallet's current positions. Zero and
// negative sizes (dust left by rounding) are filtered out.
func (c *DataClient) GetUserPositions(ctx context.Context, wallet string) ([]UserPosition, error) {
	if c.endpoint == "" {
		return nil, ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{"user": {wallet}}
	u := c.endpoint + "/positions?" + q.Encode()

	var payload []positionPayload
	start := time.Now()
	err := c.getJSON(ctx, u, &payload)
	observability.RecordAPICall("/positions", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get user positions: %w", err)
	}

	positions := make([]UserPosition, 0, len(payload))
	for _, p := range payload {
		if p.Size <= 0 {
			continue
		}
		positions = append(positions, UserPosition{
			MarketID: p.ConditionID,
			TokenID:  p.Asset,
			Outcome:  p.Outcome,
			Shares:   p.Size,
			AvgPrice: p.AvgPrice,
		})
	}
	return positions, nil
}

// getJSON performs a GET with one retry on transient failures.
func (c *DataClient) getJSON(ctx context.Context, url string, result any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DefaultRetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return lastErr
}
