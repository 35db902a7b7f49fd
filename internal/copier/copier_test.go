package copier

import (
	"context"
	"sync"
	"testing"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/sizing"
	"polymarket-copytrader/internal/storage/memory"
)

// sizerExchange serves balance and slippage estimates for the sizer.
type sizerExchange struct {
	balance  float64
	slippage float64
}

func (e *sizerExchange) GetOrderBook(context.Context, string) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{}, nil
}
func (e *sizerExchange) GetPrice(context.Context, string) (*exchange.Quote, error) {
	return &exchange.Quote{Bid: 0.5, Ask: 0.5}, nil
}
func (e *sizerExchange) CreateMarketOrder(context.Context, string, string, float64) (*exchange.FillResult, error) {
	return nil, exchange.ErrNotConnected
}
func (e *sizerExchange) CreateLimitOrder(context.Context, string, string, float64, float64) (*exchange.FillResult, error) {
	return nil, exchange.ErrNotConnected
}
func (e *sizerExchange) EstimateSlippage(context.Context, string, string, float64) (float64, error) {
	return e.slippage, nil
}
func (e *sizerExchange) GetBalance(context.Context) (float64, error) {
	return e.balance, nil
}

// scriptExecutor records execution params and plays back a scripted result.
type scriptExecutor struct {
	mu     sync.Mutex
	calls  []executor.ExecuteParams
	result *executor.ExecutionResult
	err    error
	delay  time.Duration
}

func (e *scriptExecutor) Execute(_ context.Context, params executor.ExecuteParams) (*executor.ExecutionResult, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, params)
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		r := *e.result
		if r.ExecutedAmount == 0 {
			r.ExecutedAmount = params.Amount
		}
		return &r, nil
	}
	return &executor.ExecutionResult{Success: true, TradeID: "t1", ExecutedAmount: params.Amount}, nil
}

func (e *scriptExecutor) snapshot() []executor.ExecuteParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executor.ExecuteParams(nil), e.calls...)
}

// captureRetrier records scheduled retries.
type captureRetrier struct {
	mu      sync.Mutex
	records []*domain.TradeRecord
}

func (r *captureRetrier) ScheduleRetry(_ context.Context, record *domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *captureRetrier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type copierFixture struct {
	orchestrator *Orchestrator
	executor     *scriptExecutor
	retrier      *captureRetrier
	traders      *memory.TraderStore
	trades       *memory.TradeStore
	positions    *memory.PositionStore
	exchange     *sizerExchange
}

func newCopierFixture(t *testing.T) *copierFixture {
	t.Helper()

	f := &copierFixture{
		executor:  &scriptExecutor{},
		retrier:   &captureRetrier{},
		traders:   memory.NewTraderStore(),
		trades:    memory.NewTradeStore(),
		positions: memory.NewPositionStore(),
		exchange:  &sizerExchange{balance: 1000},
	}
	sizer := sizing.New(sizing.Options{
		Traders:   f.traders,
		Positions: f.positions,
		Exchange:  f.exchange,
	})
	f.orchestrator = New(Options{
		Traders:  f.traders,
		Trades:   f.trades,
		Sizer:    sizer,
		Executor: f.executor,
		Retrier:  f.retrier,
	})

	if err := f.traders.Insert(context.Background(), &domain.TraderProfile{
		ID:            "trader-1",
		WalletAddress: "0xabc",
		Status:        domain.TraderStatusActive,
		Overrides:     domain.RiskOverrides{AllocationPercent: 10},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert trader: %v", err)
	}
	return f
}

func changeEvent(kind domain.ChangeKind, prev, curr, price float64) domain.PositionChangeEvent {
	return domain.PositionChangeEvent{
		TraderID:       "trader-1",
		WalletAddress:  "0xabc",
		MarketID:       "market-1",
		TokenID:        "token-yes",
		Outcome:        "YES",
		Kind:           kind,
		PreviousShares: prev,
		CurrentShares:  curr,
		Delta:          curr - prev,
		Price:          price,
		Timestamp:      time.Now().UTC(),
	}
}

func waitForCalls(t *testing.T, e *scriptExecutor, n int) []executor.ExecuteParams {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := e.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d executor calls, got %d", n, len(e.snapshot()))
	return nil
}

func TestOrchestrator_CopiesNewPosition(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	// Source bought 100 shares at 0.50: $50 notional, within the $100
	// allocation slice of a $1000 balance.
	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 100, 0.50))

	calls := waitForCalls(t, f.executor, 1)
	if calls[0].Side != domain.SideBuy {
		t.Errorf("expected BUY, got %s", calls[0].Side)
	}
	if calls[0].Amount != 50 {
		t.Errorf("expected amount 50, got %f", calls[0].Amount)
	}
	if calls[0].OrderType != domain.OrderTypeMarket {
		t.Errorf("expected MARKET, got %s", calls[0].OrderType)
	}

	stats := f.orchestrator.Stats()
	if stats.TotalCopied != 1 || stats.SuccessfulCopies != 1 || stats.TotalVolume != 50 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestOrchestrator_AllocationCapsLargeSourceTrades(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	// $500 source notional against a $100 allocation slice.
	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 1000, 0.50))

	calls := waitForCalls(t, f.executor, 1)
	if calls[0].Amount != 100 {
		t.Errorf("expected amount capped at 100, got %f", calls[0].Amount)
	}
}

func TestOrchestrator_DropsEventsWhileStopped(t *testing.T) {
	f := newCopierFixture(t)

	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 100, 0.50))

	time.Sleep(20 * time.Millisecond)
	if got := f.executor.snapshot(); len(got) != 0 {
		t.Errorf("stopped orchestrator must not execute, got %d calls", len(got))
	}
}

func TestOrchestrator_SkipsInactiveTrader(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	if err := f.traders.UpdateStatus(context.Background(), "trader-1", domain.TraderStatusPaused); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 100, 0.50))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.orchestrator.Stats().SkippedCopies == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stats := f.orchestrator.Stats(); stats.SkippedCopies != 1 || stats.TotalCopied != 0 {
		t.Errorf("expected one skip, got %+v", stats)
	}
	if len(f.executor.snapshot()) != 0 {
		t.Error("paused trader must not be copied")
	}
}

func TestOrchestrator_SkipsUnsizableTrades(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	// $0.25 source notional is below the minimum trade amount.
	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 1, 0.25))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.orchestrator.Stats().SkippedCopies == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stats := f.orchestrator.Stats(); stats.SkippedCopies != 1 {
		t.Errorf("expected one skip, got %+v", stats)
	}
	if len(f.executor.snapshot()) != 0 {
		t.Error("unsizable trade must not execute")
	}
}

func TestOrchestrator_SellMirrorsReductionProportionally(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	if err := f.positions.Insert(context.Background(), &domain.PositionRecord{
		ID:            "pos-1",
		TraderID:      "trader-1",
		MarketID:      "market-1",
		TokenID:       "token-yes",
		Outcome:       "YES",
		Shares:        200,
		AvgEntryPrice: 0.40,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	// Source halves a 100-share position at 0.60: we sell half of our
	// 200 shares, 100 x 0.60 = $60.
	f.orchestrator.HandleEvent(changeEvent(domain.ChangeDecreased, 100, 50, 0.60))

	calls := waitForCalls(t, f.executor, 1)
	if calls[0].Side != domain.SideSell {
		t.Errorf("expected SELL, got %s", calls[0].Side)
	}
	if calls[0].Amount != 60 {
		t.Errorf("expected amount 60, got %f", calls[0].Amount)
	}
}

func TestOrchestrator_CloseSellsEverythingHeld(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	if err := f.positions.Insert(context.Background(), &domain.PositionRecord{
		ID:            "pos-1",
		TraderID:      "trader-1",
		MarketID:      "market-1",
		TokenID:       "token-yes",
		Outcome:       "YES",
		Shares:        80,
		AvgEntryPrice: 0.40,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	f.orchestrator.HandleEvent(changeEvent(domain.ChangeClosed, 100, 0, 0.50))

	calls := waitForCalls(t, f.executor, 1)
	if calls[0].Side != domain.SideSell {
		t.Errorf("expected SELL, got %s", calls[0].Side)
	}
	if calls[0].Amount != 40 {
		t.Errorf("expected amount 40 (80 shares at 0.50), got %f", calls[0].Amount)
	}
}

func TestOrchestrator_SellWithNothingHeldSkips(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	f.orchestrator.HandleEvent(changeEvent(domain.ChangeClosed, 100, 0, 0.50))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.orchestrator.Stats().SkippedCopies == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stats := f.orchestrator.Stats(); stats.SkippedCopies != 1 {
		t.Errorf("expected one skip, got %+v", stats)
	}
	if len(f.executor.snapshot()) != 0 {
		t.Error("sell with no local position must not execute")
	}
}

func TestOrchestrator_FailedCopyGoesToRetry(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	// Executor reports a failed attempt with a retryable trade record.
	f.executor.result = &executor.ExecutionResult{TradeID: "t1", FailureReason: "exchange timeout"}
	if err := f.trades.Insert(context.Background(), &domain.TradeRecord{
		ID:              "t1",
		TraderID:        "trader-1",
		MarketID:        "market-1",
		TokenID:         "token-yes",
		Side:            domain.SideBuy,
		OrderType:       domain.OrderTypeMarket,
		RequestedAmount: 50,
		Status:          domain.TradeStatusFailed,
		RetryCount:      1,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	f.orchestrator.HandleEvent(changeEvent(domain.ChangeNew, 0, 100, 0.50))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.retrier.count() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f.retrier.count() != 1 {
		t.Fatal("expected failed trade to be scheduled for retry")
	}
	if stats := f.orchestrator.Stats(); stats.FailedCopies != 1 {
		t.Errorf("expected one failure, got %+v", stats)
	}
}

func TestOrchestrator_SameTraderEventsProcessedInOrder(t *testing.T) {
	f := newCopierFixture(t)
	f.executor.delay = 2 * time.Millisecond
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	shares := []float64{100, 200, 300, 400, 500}
	prev := 0.0
	for _, s := range shares {
		kind := domain.ChangeIncreased
		if prev == 0 {
			kind = domain.ChangeNew
		}
		f.orchestrator.HandleEvent(changeEvent(kind, prev, s, 0.50))
		prev = s
	}

	calls := waitForCalls(t, f.executor, len(shares))
	// All increases of 100 shares at 0.50 size to the same $50 copy; the
	// serialized worker must deliver them in arrival order regardless.
	for i := 1; i < len(calls); i++ {
		if calls[i].Side != domain.SideBuy {
			t.Fatalf("call %d: expected BUY, got %s", i, calls[i].Side)
		}
	}
	if len(calls) != len(shares) {
		t.Fatalf("expected %d calls, got %d", len(shares), len(calls))
	}
}

func TestOrchestrator_ManualCopy(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	result, err := f.orchestrator.ManualCopy(context.Background(), executor.ExecuteParams{
		TraderID: "trader-1",
		MarketID: "market-1",
		TokenID:  "token-yes",
		Side:     domain.SideBuy,
		Amount:   25,
	})
	if err != nil {
		t.Fatalf("ManualCopy: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.FailureReason)
	}

	calls := f.executor.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one executor call, got %d", len(calls))
	}
	if calls[0].Outcome != "YES" {
		t.Errorf("expected default outcome YES, got %q", calls[0].Outcome)
	}
	if stats := f.orchestrator.Stats(); stats.SuccessfulCopies != 1 || stats.TotalVolume != 25 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestOrchestrator_ResetStats(t *testing.T) {
	f := newCopierFixture(t)
	f.orchestrator.Start(context.Background())
	defer f.orchestrator.Stop()

	if _, err := f.orchestrator.ManualCopy(context.Background(), executor.ExecuteParams{
		TraderID: "trader-1",
		MarketID: "market-1",
		TokenID:  "token-yes",
		Side:     domain.SideBuy,
		Amount:   25,
	}); err != nil {
		t.Fatalf("ManualCopy: %v", err)
	}

	f.orchestrator.ResetStats()
	if stats := f.orchestrator.Stats(); stats != (Stats{}) {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}
