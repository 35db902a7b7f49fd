package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"polymarket-copytrader/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second

	// Token-bucket limits per API family. Order placement is throttled
	// much harder than market data reads.
	DefaultDataRPS   = 10
	DefaultDataBurst = 20
	DefaultOrderRPS  = 2
	DefaultOrderBurst = 4
)

// Sentinel errors.
var (
	// ErrNotConnected means the client has no endpoint configured.
	ErrNotConnected = errors.New("exchange: not connected")

	// ErrInsufficientLiquidity means the order book cannot absorb the
	// requested notional.
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
)

// Client defines the CLOB exchange interface used by the copy pipeline.
type Client interface {
	// GetOrderBook retrieves the current book snapshot for a token.
	GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)

	// GetPrice returns top-of-book bid/ask with derived mid and spread.
	GetPrice(ctx context.Context, tokenID string) (*Quote, error)

	// CreateMarketOrder places an immediate order for a USDC notional.
	CreateMarketOrder(ctx context.Context, tokenID string, side string, amount float64) (*FillResult, error)

	// CreateLimitOrder places an order capped at the given price.
	CreateLimitOrder(ctx context.Context, tokenID string, side string, amount, price float64) (*FillResult, error)

	// EstimateSlippage walks the book and returns the expected slippage
	// as a fraction of the best price. Returns 1.0 when the book is empty
	// or cannot absorb the notional.
	EstimateSlippage(ctx context.Context, tokenID string, side string, amount float64) (float64, error)

	// GetBalance returns the available USDC collateral balance.
	GetBalance(ctx context.Context) (float64, error)
}

// HTTPClient implements Client against the CLOB REST API.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration

	// Separate token buckets so a burst of book polls cannot starve
	// order placement and vice versa.
	dataLimiter  *rate.Limiter
	orderLimiter *rate.Limiter
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithDataRateLimit overrides the market-data token bucket.
func WithDataRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		c.dataLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithOrderRateLimit overrides the order-placement token bucket.
func WithOrderRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		c.orderLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPClient creates a new CLOB REST client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		maxDelay:     DefaultMaxDelay,
		dataLimiter:  rate.NewLimiter(rate.Limit(DefaultDataRPS), DefaultDataBurst),
		orderLimiter: rate.NewLimiter(rate.Limit(DefaultOrderRPS), DefaultOrderBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// bookResponse mirrors the CLOB book payload. Prices and sizes come over
// the wire as decimal strings.
type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// GetOrderBook retrieves the current book snapshot for a token.
func (c *HTTPClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp bookResponse
	q := url.Values{"token_id": {tokenID}}
	if err := c.get(ctx, "/book", q, &resp); err != nil {
		return nil, fmt.Errorf("get order book: %w", err)
	}

	book := &OrderBook{TokenID: tokenID}
	var err error
	if book.Bids, err = parseLevels(resp.Bids); err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	if book.Asks, err = parseLevels(resp.Asks); err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	return book, nil
}

// GetPrice returns top-of-book bid/ask with derived mid and spread.
func (c *HTTPClient) GetPrice(ctx context.Context, tokenID string) (*Quote, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	quote := &Quote{
		TokenID: tokenID,
		Bid:     book.BestBid(),
		Ask:     book.BestAsk(),
	}
	if quote.Bid > 0 && quote.Ask > 0 {
		quote.Mid = (quote.Bid + quote.Ask) / 2
		quote.Spread = quote.Ask - quote.Bid
	}
	return quote, nil
}

// orderRequest is the wire form of an order placement.
type orderRequest struct {
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
	Price   float64 `json:"price,omitempty"`
}

// orderResponse is the exchange's placement reply.
type orderResponse struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledAmount float64 `json:"filled_amount"`
	Shares       float64 `json:"shares"`
	AvgPrice     float64 `json:"avg_price"`
	ErrorMsg     string  `json:"error_msg,omitempty"`
}

// CreateMarketOrder places an immediate order for a USDC notional.
func (c *HTTPClient) CreateMarketOrder(ctx context.Context, tokenID string, side string, amount float64) (*FillResult, error) {
	return c.placeOrder(ctx, orderRequest{
		TokenID: tokenID,
		Side:    side,
		Type:    "market",
		Amount:  amount,
	})
}

// CreateLimitOrder places an order capped at the given price.
func (c *HTTPClient) CreateLimitOrder(ctx context.Context, tokenID string, side string, amount, price float64) (*FillResult, error) {
	return c.placeOrder(ctx, orderRequest{
		TokenID: tokenID,
		Side:    side,
		Type:    "limit",
		Amount:  amount,
		Price:   price,
	})
}

func (c *HTTPClient) placeOrder(ctx context.Context, req orderRequest) (*FillResult, error) {
	if c.endpoint == "" {
		return nil, ErrNotConnected
	}
	if err := c.orderLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := c.post(ctx, "/order", req, &resp); err != nil {
		return nil, fmt.Errorf("place %s order: %w", req.Type, err)
	}
	if resp.Status == string(OrderStatusRejected) {
		return nil, fmt.Errorf("order rejected: %s", resp.ErrorMsg)
	}

	return &FillResult{
		OrderID:      resp.OrderID,
		FilledAmount: resp.FilledAmount,
		Shares:       resp.Shares,
		AvgPrice:     resp.AvgPrice,
		Status:       OrderStatus(resp.Status),
	}, nil
}

// EstimateSlippage walks the book and returns the expected slippage as a
// fraction of the best price.
func (c *HTTPClient) EstimateSlippage(ctx context.Context, tokenID string, side string, amount float64) (float64, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	return estimateBookSlippage(book, side, amount), nil
}

// balanceResponse is the collateral balance payload.
type balanceResponse struct {
	Balance string `json:"balance"`
}

// GetBalance returns the available USDC collateral balance.
func (c *HTTPClient) GetBalance(ctx context.Context) (float64, error) {
	if c.endpoint == "" {
		return 0, ErrNotConnected
	}
	if err := c.dataLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	var resp balanceResponse
	if err := c.get(ctx, "/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	balance, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

// get performs a GET request with retries.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	start := time.Now()
	err := c.do(ctx, http.MethodGet, u, nil, result)
	observability.RecordAPICall(path, time.Since(start).Seconds(), err)
	return err
}

// post performs a POST request with retries.
func (c *HTTPClient) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	start := time.Now()
	err = c.do(ctx, http.MethodPost, c.endpoint+path, data, result)
	observability.RecordAPICall(path, time.Since(start).Seconds(), err)
	return err
}

// do performs an HTTP request with retries and exponential backoff.
// 429 and 5xx responses are retried, 4xx responses are not.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, result any) error {
	if c.endpoint == "" {
		return ErrNotConnected
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseLevels converts wire string levels into floats, skipping zero sizes.
func parseLevels(levels []bookLevel) ([]BookLevel, error) {
	out := make([]BookLevel, 0, len(levels))
	for _, l := range levels {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", l.Price, err)
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", l.Size, err)
		}
		if size <= 0 {
			continue
		}
		out = append(out, BookLevel{Price: price, Size: size})
	}
	return out, nil
}
