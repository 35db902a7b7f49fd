package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_GetOrderBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("expected path /book, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("token_id"); got != "token-yes" {
			t.Errorf("expected token_id token-yes, got %s", got)
		}

		resp := bookResponse{
			AssetID: "token-yes",
			Bids: []bookLevel{
				{Price: "0.54", Size: "1000"},
				{Price: "0.53", Size: "500"},
			},
			Asks: []bookLevel{
				{Price: "0.56", Size: "800"},
				{Price: "0.57", Size: "0"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	book, err := client.GetOrderBook(ctx, "token-yes")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}

	if len(book.Bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(book.Bids))
	}
	if book.BestBid() != 0.54 {
		t.Errorf("expected best bid 0.54, got %f", book.BestBid())
	}
	// Zero-size levels are dropped.
	if len(book.Asks) != 1 {
		t.Fatalf("expected 1 ask, got %d", len(book.Asks))
	}
	if book.BestAsk() != 0.56 {
		t.Errorf("expected best ask 0.56, got %f", book.BestAsk())
	}
}

func TestHTTPClient_GetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := bookResponse{
			Bids: []bookLevel{{Price: "0.50", Size: "100"}},
			Asks: []bookLevel{{Price: "0.54", Size: "100"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	quote, err := client.GetPrice(context.Background(), "token-yes")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}

	if quote.Bid != 0.50 || quote.Ask != 0.54 {
		t.Errorf("unexpected quote %+v", quote)
	}
	if quote.Mid != 0.52 {
		t.Errorf("expected mid 0.52, got %f", quote.Mid)
	}
	if diff := quote.Spread - 0.04; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected spread 0.04, got %f", quote.Spread)
	}
}

func TestHTTPClient_CreateMarketOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" {
			t.Errorf("expected path /order, got %s", r.URL.Path)
		}

		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Type != "market" {
			t.Errorf("expected market order, got %s", req.Type)
		}
		if req.Side != "BUY" {
			t.Errorf("expected side BUY, got %s", req.Side)
		}

		json.NewEncoder(w).Encode(orderResponse{
			OrderID:      "ord-1",
			Status:       "FILLED",
			FilledAmount: 50,
			Shares:       90.9,
			AvgPrice:     0.55,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	fill, err := client.CreateMarketOrder(context.Background(), "token-yes", "BUY", 50)
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}
	if fill.OrderID != "ord-1" {
		t.Errorf("expected order id ord-1, got %s", fill.OrderID)
	}
	if fill.Status != OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", fill.Status)
	}
	if fill.Shares != 90.9 {
		t.Errorf("expected 90.9 shares, got %f", fill.Shares)
	}
}

func TestHTTPClient_OrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderResponse{
			Status:   "REJECTED",
			ErrorMsg: "market closed",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.CreateLimitOrder(context.Background(), "token-yes", "BUY", 50, 0.55)
	if err == nil {
		t.Fatal("expected error for rejected order")
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(balanceResponse{Balance: "1234.56"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithRetryDelay(time.Millisecond),
		WithMaxRetries(3),
	)

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 1234.56 {
		t.Errorf("expected 1234.56, got %f", balance)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))

	_, err := client.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_NotConnected(t *testing.T) {
	client := NewHTTPClient("")

	_, err := client.CreateMarketOrder(context.Background(), "token-yes", "BUY", 50)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	_, err = client.GetBalance(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDataClient_GetUserPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user"); got != "0xwhale" {
			t.Errorf("expected user 0xwhale, got %s", got)
		}
		json.NewEncoder(w).Encode([]positionPayload{
			{ConditionID: "market-1", Asset: "token-yes", Outcome: "YES", Size: 100, AvgPrice: 0.5},
			{ConditionID: "market-2", Asset: "token-no", Outcome: "NO", Size: 0, AvgPrice: 0.3},
		})
	}))
	defer server.Close()

	client := NewDataClient(server.URL)

	positions, err := client.GetUserPositions(context.Background(), "0xwhale")
	if err != nil {
		t.Fatalf("GetUserPositions: %v", err)
	}

	// Zero-size positions are filtered.
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].TokenID != "token-yes" || positions[0].Shares != 100 {
		t.Errorf("unexpected position %+v", positions[0])
	}
}
