package sizing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/storage/memory"
)

type stubExchange struct {
	balance     float64
	balanceErr  error
	slippage    float64
	slippageErr error
}

func (s *stubExchange) GetOrderBook(context.Context, string) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{}, nil
}

func (s *stubExchange) GetPrice(context.Context, string) (*exchange.Quote, error) {
	return &exchange.Quote{}, nil
}

func (s *stubExchange) CreateMarketOrder(context.Context, string, string, float64) (*exchange.FillResult, error) {
	return nil, exchange.ErrNotConnected
}

func (s *stubExchange) CreateLimitOrder(context.Context, string, string, float64, float64) (*exchange.FillResult, error) {
	return nil, exchange.ErrNotConnected
}

func (s *stubExchange) EstimateSlippage(context.Context, string, string, float64) (float64, error) {
	return s.slippage, s.slippageErr
}

func (s *stubExchange) GetBalance(context.Context) (float64, error) {
	return s.balance, s.balanceErr
}

type sizerFixture struct {
	sizer     *Sizer
	traders   *memory.TraderStore
	positions *memory.PositionStore
	exchange  *stubExchange
}

func newSizerFixture(t *testing.T, allocationPercent float64) *sizerFixture {
	t.Helper()

	f := &sizerFixture{
		traders:   memory.NewTraderStore(),
		positions: memory.NewPositionStore(),
		exchange:  &stubExchange{balance: 1000},
	}
	f.sizer = New(Options{
		Traders:   f.traders,
		Positions: f.positions,
		Exchange:  f.exchange,
	})

	trader := &domain.TraderProfile{
		ID:            "trader-1",
		Name:          "whale",
		WalletAddress: "0xwhale",
		Status:        domain.TraderStatusActive,
		Overrides:     domain.RiskOverrides{AllocationPercent: allocationPercent},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := f.traders.Insert(context.Background(), trader); err != nil {
		t.Fatalf("insert trader: %v", err)
	}
	return f
}

func TestSizer_AllocationVsProportional(t *testing.T) {
	// $1000 balance, 10% allocation, $1000 source trade → min(100, 1000) = 100.
	f := newSizerFixture(t, 10)

	result := f.sizer.Size(context.Background(), "trader-1", 1000, "token-yes", domain.SideBuy)
	if !result.CanExecute {
		t.Fatalf("expected executable, reasons %v", result.Reasons)
	}
	if result.RecommendedSize != 100 {
		t.Errorf("expected recommended 100, got %f", result.RecommendedSize)
	}
	if result.AdjustedSize != 100 {
		t.Errorf("expected adjusted 100, got %f", result.AdjustedSize)
	}
}

func TestSizer_SourceTradeSmallerThanAllocation(t *testing.T) {
	f := newSizerFixture(t, 10)

	result := f.sizer.Size(context.Background(), "trader-1", 30, "token-yes", domain.SideBuy)
	if result.RecommendedSize != 30 {
		t.Errorf("expected recommended 30, got %f", result.RecommendedSize)
	}
}

func TestSizer_BelowMinimum(t *testing.T) {
	f := newSizerFixture(t, 10)

	result := f.sizer.Size(context.Background(), "trader-1", 0.5, "token-yes", domain.SideBuy)
	if result.CanExecute {
		t.Fatal("expected not executable")
	}
	if result.AdjustedSize != 0 {
		t.Errorf("expected zero size, got %f", result.AdjustedSize)
	}
	if len(result.Reasons) == 0 {
		t.Error("expected a reason")
	}
}

func TestSizer_SlippageShrink(t *testing.T) {
	// Tolerance 5% (default), estimated 10% → adjusted = 0.5 × recommended.
	f := newSizerFixture(t, 10)
	f.exchange.slippage = 0.10

	result := f.sizer.Size(context.Background(), "trader-1", 1000, "token-yes", domain.SideBuy)
	if math.Abs(result.AdjustedSize-50) > 1e-9 {
		t.Errorf("expected adjusted 50, got %f", result.AdjustedSize)
	}
	if result.RecommendedSize != 100 {
		t.Errorf("expected recommended 100, got %f", result.RecommendedSize)
	}
	if result.EstimatedSlippage != 10 {
		t.Errorf("expected estimate 10%%, got %f", result.EstimatedSlippage)
	}
	if !result.CanExecute {
		t.Fatalf("expected executable, reasons %v", result.Reasons)
	}
}

func TestSizer_BalanceCap(t *testing.T) {
	// 100% allocation of a $40 balance → capped to balance − 1.
	f := newSizerFixture(t, 100)
	f.exchange.balance = 40

	result := f.sizer.Size(context.Background(), "trader-1", 500, "token-yes", domain.SideBuy)
	if result.RecommendedSize != 39 {
		t.Errorf("expected 39, got %f", result.RecommendedSize)
	}
	if !result.CanExecute {
		t.Fatalf("expected executable, reasons %v", result.Reasons)
	}
}

func TestSizer_BalanceFetchFailure(t *testing.T) {
	f := newSizerFixture(t, 10)
	f.exchange.balanceErr = errors.New("exchange down")

	result := f.sizer.Size(context.Background(), "trader-1", 100, "token-yes", domain.SideBuy)
	if result.CanExecute {
		t.Fatal("expected not executable")
	}
	if result.AdjustedSize != 0 || result.RecommendedSize != 0 {
		t.Errorf("expected zero sizes, got %+v", result)
	}
}

func TestSizer_UnknownTrader(t *testing.T) {
	f := newSizerFixture(t, 10)

	result := f.sizer.Size(context.Background(), "ghost", 100, "token-yes", domain.SideBuy)
	if result.CanExecute {
		t.Fatal("expected not executable for unknown trader")
	}
}

func TestSizer_IncreaseSize(t *testing.T) {
	f := newSizerFixture(t, 10)

	// Default cap 500, existing 400 → headroom 100.
	if got := f.sizer.IncreaseSize(context.Background(), "trader-1", 400, 150); got != 100 {
		t.Errorf("expected 100, got %f", got)
	}
	if got := f.sizer.IncreaseSize(context.Background(), "trader-1", 400, 50); got != 50 {
		t.Errorf("expected 50, got %f", got)
	}
	if got := f.sizer.IncreaseSize(context.Background(), "trader-1", 600, 50); got != 0 {
		t.Errorf("expected 0 with no headroom, got %f", got)
	}
	// Unknown trader falls back to the requested amount.
	if got := f.sizer.IncreaseSize(context.Background(), "ghost", 400, 150); got != 150 {
		t.Errorf("expected 150, got %f", got)
	}
}

func TestSizer_DecreaseSize(t *testing.T) {
	f := newSizerFixture(t, 10)
	ctx := context.Background()

	if err := f.positions.Insert(ctx, &domain.PositionRecord{
		ID:            "pos-1",
		TraderID:      "trader-1",
		MarketID:      "market-1",
		TokenID:       "token-yes",
		Shares:        80,
		AvgEntryPrice: 0.5,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	if got := f.sizer.DecreaseSize(ctx, "trader-1", "token-yes", 120); got != 80 {
		t.Errorf("expected cap to 80 held shares, got %f", got)
	}
	if got := f.sizer.DecreaseSize(ctx, "trader-1", "token-yes", 30); got != 30 {
		t.Errorf("expected 30, got %f", got)
	}
	if got := f.sizer.DecreaseSize(ctx, "trader-1", "token-no", 30); got != 0 {
		t.Errorf("expected 0 for unheld token, got %f", got)
	}
}

func TestSizer_ExistingPosition(t *testing.T) {
	f := newSizerFixture(t, 10)
	ctx := context.Background()

	pos, err := f.sizer.ExistingPosition(ctx, "trader-1", "market-1", "token-yes")
	if err != nil {
		t.Fatalf("ExistingPosition: %v", err)
	}
	if pos != nil {
		t.Fatal("expected nil for no position")
	}

	if err := f.positions.Insert(ctx, &domain.PositionRecord{
		ID:       "pos-1",
		TraderID: "trader-1",
		MarketID: "market-1",
		TokenID:  "token-yes",
		Shares:   10,
		Status:   domain.PositionStatusOpen,
		OpenedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pos, err = f.sizer.ExistingPosition(ctx, "trader-1", "market-1", "token-yes")
	if err != nil {
		t.Fatalf("ExistingPosition: %v", err)
	}
	if pos == nil || pos.ID != "pos-1" {
		t.Errorf("unexpected position %+v", pos)
	}
}
