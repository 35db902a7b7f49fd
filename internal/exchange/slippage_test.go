package exchange

import (
	"math"
	"testing"
)

func TestEstimateBookSlippage_SingleLevel(t *testing.T) {
	book := &OrderBook{
		Asks: []BookLevel{{Price: 0.50, Size: 1000}},
	}

	// Fully absorbed at the best price, no slippage.
	got := estimateBookSlippage(book, "BUY", 100)
	if got != 0 {
		t.Errorf("expected 0 slippage, got %f", got)
	}
}

func TestEstimateBookSlippage_WalksLevels(t *testing.T) {
	book := &OrderBook{
		Asks: []BookLevel{
			{Price: 0.50, Size: 100}, // $50 notional
			{Price: 0.60, Size: 100}, // $60 notional
		},
	}

	// $80 order: $50 at 0.50 (100 shares), $30 at 0.60 (50 shares).
	// avg = 80/150 ≈ 0.5333, slippage ≈ (0.5333-0.50)/0.50 ≈ 6.67%.
	got := estimateBookSlippage(book, "BUY", 80)
	want := (80.0/150.0 - 0.50) / 0.50
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestEstimateBookSlippage_SellUsesBids(t *testing.T) {
	book := &OrderBook{
		Bids: []BookLevel{
			{Price: 0.50, Size: 100}, // $50
			{Price: 0.40, Size: 500}, // $200
		},
	}

	// $100 sell: $50 at 0.50 (100 shares), $50 at 0.40 (125 shares).
	// avg = 100/225 ≈ 0.4444, slippage = (0.50-0.4444)/0.50 ≈ 11.1%.
	got := estimateBookSlippage(book, "SELL", 100)
	want := (0.50 - 100.0/225.0) / 0.50
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestEstimateBookSlippage_EmptyBook(t *testing.T) {
	book := &OrderBook{}

	if got := estimateBookSlippage(book, "BUY", 50); got != 1.0 {
		t.Errorf("expected 1.0 for empty book, got %f", got)
	}
}

func TestEstimateBookSlippage_InsufficientLiquidity(t *testing.T) {
	book := &OrderBook{
		Asks: []BookLevel{{Price: 0.50, Size: 10}}, // $5 of depth
	}

	if got := estimateBookSlippage(book, "BUY", 500); got != 1.0 {
		t.Errorf("expected 1.0 for thin book, got %f", got)
	}
}
