package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/storage/memory"
)

// stubExchange implements exchange.Client with fixed values.
type stubExchange struct {
	balance     float64
	balanceErr  error
	slippage    float64 // fraction
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

type gateFixture struct {
	gate      *Gate
	traders   *memory.TraderStore
	trades    *memory.TradeStore
	positions *memory.PositionStore
	exchange  *stubExchange
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	f := &gateFixture{
		traders:   memory.NewTraderStore(),
		trades:    memory.NewTradeStore(),
		positions: memory.NewPositionStore(),
		exchange:  &stubExchange{balance: 1000},
	}
	f.gate = NewGate(GateOptions{
		Traders:   f.traders,
		Trades:    f.trades,
		Positions: f.positions,
		Exchange:  f.exchange,
	})
	return f
}

func (f *gateFixture) addTrader(t *testing.T, id string, peak float64) *domain.TraderProfile {
	t.Helper()

	trader := &domain.TraderProfile{
		ID:            id,
		Name:          id,
		WalletAddress: "0x" + id,
		Status:        domain.TraderStatusActive,
		PeakBalance:   peak,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := f.traders.Insert(context.Background(), trader); err != nil {
		t.Fatalf("insert trader: %v", err)
	}
	return trader
}

func buyParams(traderID string, amount float64) CheckParams {
	return CheckParams{
		TraderID: traderID,
		MarketID: "market-1",
		TokenID:  "token-yes",
		Side:     domain.SideBuy,
		Amount:   amount,
	}
}

func TestGate_TraderNotFound(t *testing.T) {
	f := newGateFixture(t)

	result, err := f.gate.Check(context.Background(), buyParams("ghost", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "not found") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
}

func TestGate_InsufficientBalance(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)
	f.exchange.balance = 100

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 150))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "insufficient balance") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
	if result.Metrics.AvailableBalance != 100 {
		t.Errorf("expected balance metric 100, got %f", result.Metrics.AvailableBalance)
	}
}

func TestGate_SellPassesBalanceCheck(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)
	f.exchange.balance = 10

	params := buyParams("trader-1", 50)
	params.Side = domain.SideSell

	result, err := f.gate.Check(context.Background(), params)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approval, got %q", result.RejectionReason)
	}
}

func TestGate_PositionLimitAdjustment(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)

	// Existing 400 of value against a 500 cap, requesting 150.
	if err := f.positions.Insert(context.Background(), &domain.PositionRecord{
		ID:            "pos-1",
		TraderID:      "trader-1",
		MarketID:      "market-1",
		TokenID:       "token-yes",
		Outcome:       "YES",
		Shares:        800,
		AvgEntryPrice: 0.5,
		TotalCost:     400,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 150))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approval, got %q", result.RejectionReason)
	}
	if result.AdjustedAmount == nil {
		t.Fatal("expected an adjusted amount")
	}
	if *result.AdjustedAmount != 100 {
		t.Errorf("expected adjustment to 100, got %f", *result.AdjustedAmount)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected an adjustment warning")
	}
	if got := result.Amount(150); got != 100 {
		t.Errorf("expected Amount 100, got %f", got)
	}
}

func TestGate_PositionLimitRejectWhenNoHeadroom(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)

	if err := f.positions.Insert(context.Background(), &domain.PositionRecord{
		ID:            "pos-1",
		TraderID:      "trader-1",
		MarketID:      "market-1",
		TokenID:       "token-yes",
		Shares:        999,
		AvgEntryPrice: 0.5,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "position size limit") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
}

func TestGate_DrawdownReject(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 1000)
	f.exchange.balance = 750 // 25% drawdown vs default 20% limit

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "drawdown") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
	if result.Metrics.CurrentDrawdown != 25 {
		t.Errorf("expected drawdown 25, got %f", result.Metrics.CurrentDrawdown)
	}
}

func TestGate_DrawdownWarning(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 1000)
	f.exchange.balance = 830 // 17% drawdown, above 80% of the 20% limit

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approval, got %q", result.RejectionReason)
	}

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "drawdown") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected drawdown warning, got %v", result.Warnings)
	}
}

func TestGate_DailyLossReject(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)

	// Today's executed trades with a net -120 against the default 100 limit.
	now := time.Now().UTC()
	if err := f.trades.Insert(context.Background(), &domain.TradeRecord{
		ID:              "t1",
		TraderID:        "trader-1",
		MarketID:        "market-1",
		TokenID:         "token-yes",
		Side:            domain.SideBuy,
		RequestedAmount: 200,
		ExecutedAmount:  80,
		Status:          domain.TradeStatusExecuted,
		CreatedAt:       now,
	}); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "daily loss") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
	if result.Metrics.DailyPnL != -120 {
		t.Errorf("expected daily pnl -120, got %f", result.Metrics.DailyPnL)
	}
}

func TestGate_SlippageRejectAndDegrade(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)

	// 8% estimated vs 5% default tolerance.
	f.exchange.slippage = 0.08
	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "slippage") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}

	// Estimation error degrades to a warning, not a rejection.
	f.exchange.slippage = 0
	f.exchange.slippageErr = exchange.ErrInsufficientLiquidity
	result, err = f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Approved {
		t.Fatalf("expected approval, got %q", result.RejectionReason)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a slippage warning")
	}
}

func TestGate_MinTradeAmount(t *testing.T) {
	f := newGateFixture(t)
	f.addTrader(t, "trader-1", 0)

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 0.5))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(result.RejectionReason, "minimum") {
		t.Errorf("unexpected reason %q", result.RejectionReason)
	}
}

func TestGate_OverridesTakePrecedence(t *testing.T) {
	f := newGateFixture(t)
	trader := f.addTrader(t, "trader-1", 0)

	min := 100.0
	trader.Overrides.MinTradeAmount = &min
	if err := f.traders.UpdateOverrides(context.Background(), "trader-1", trader.Overrides); err != nil {
		t.Fatalf("update overrides: %v", err)
	}

	result, err := f.gate.Check(context.Background(), buyParams("trader-1", 50))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Approved {
		t.Fatal("expected rejection from overridden minimum")
	}
}

func TestGate_GlobalLimitsCopy(t *testing.T) {
	f := newGateFixture(t)

	limits := f.gate.GetGlobalLimits()
	limits.MaxDrawdownPercent = 99

	if f.gate.GetGlobalLimits().MaxDrawdownPercent == 99 {
		t.Error("GetGlobalLimits must return a copy")
	}

	f.gate.SetGlobalLimits(limits)
	if f.gate.GetGlobalLimits().MaxDrawdownPercent != 99 {
		t.Error("SetGlobalLimits did not apply")
	}
}

func TestDrawdown(t *testing.T) {
	if got := Drawdown(0, 500); got != 0 {
		t.Errorf("expected 0 for zero peak, got %f", got)
	}
	if got := Drawdown(1000, 750); got != 25 {
		t.Errorf("expected 25, got %f", got)
	}
	if got := Drawdown(1000, 1100); got != 0 {
		t.Errorf("expected 0 when above peak, got %f", got)
	}
}
