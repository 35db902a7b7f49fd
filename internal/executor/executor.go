package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/storage"
)

// ErrNotRetryable means the trade is not FAILED or has exhausted its
// retry attempts.
var ErrNotRetryable = errors.New("executor: trade not retryable")

// RiskChecker is the pre-trade gate consulted before every order.
type RiskChecker interface {
	Check(ctx context.Context, params risk.CheckParams) (*domain.RiskCheckResult, error)
}

// ExecuteParams describes one order to copy.
type ExecuteParams struct {
	TraderID   string
	MarketID   string
	TokenID    string
	Outcome    string
	Side       domain.OrderSide
	OrderType  domain.OrderType
	Amount     float64 // USDC notional
	LimitPrice *float64
}

// ExecutionResult is the outcome of one execution attempt. Failures are
// result values; errors are reserved for trade-record persistence problems.
type ExecutionResult struct {
	Success        bool
	TradeID        string
	ExecutedAmount float64
	Shares         float64
	FillPrice      float64
	SlippagePct    float64
	FailureReason  string
}

// Executor places orders and keeps the trade ledger, position ledger, and
// trader statistics consistent with what the exchange reports.
type Executor struct {
	gate      RiskChecker
	exchange  exchange.Client
	trades    storage.TradeStore
	positions storage.PositionStore
	activity  storage.ActivityStore
	stats     storage.TraderStatsStore // optional analytics archive
	bus       *events.Bus              // optional
	logger    *log.Logger
}

// Options configures an Executor.
type Options struct {
	Gate      RiskChecker
	Exchange  exchange.Client
	Trades    storage.TradeStore
	Positions storage.PositionStore
	Activity  storage.ActivityStore
	Stats     storage.TraderStatsStore
	Bus       *events.Bus
	Logger    *log.Logger
}

// New creates an order executor.
func New(opts Options) *Executor {
	e := &Executor{
		gate:      opts.Gate,
		exchange:  opts.Exchange,
		trades:    opts.Trades,
		positions: opts.Positions,
		activity:  opts.Activity,
		stats:     opts.Stats,
		bus:       opts.Bus,
		logger:    opts.Logger,
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	return e
}

// Execute runs the full pipeline for one order: risk gate, placement,
// ledger update, stats recompute, event emit. Gate rejections produce a
// CANCELLED audit record and a failure result, not an error.
func (e *Executor) Execute(ctx context.Context, params ExecuteParams) (*ExecutionResult, error) {
	gateResult, err := e.gate.Check(ctx, risk.CheckParams{
		TraderID: params.TraderID,
		MarketID: params.MarketID,
		TokenID:  params.TokenID,
		Side:     params.Side,
		Amount:   params.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}

	if !gateResult.Approved {
		record := e.newRecord(params, params.Amount)
		record.Status = domain.TradeStatusCancelled
		record.FailureReason = gateResult.RejectionReason
		if err := e.trades.Insert(ctx, record); err != nil {
			return nil, fmt.Errorf("insert cancelled trade: %w", err)
		}
		e.appendActivity(ctx, "TRADE_REJECTED", params.TraderID, record.ID,
			fmt.Sprintf("rejected %s %s: %s", params.Side, params.TokenID, gateResult.RejectionReason))
		return &ExecutionResult{
			TradeID:       record.ID,
			FailureReason: gateResult.RejectionReason,
		}, nil
	}

	for _, w := range gateResult.Warnings {
		e.logger.Printf("executor: %s %s warning: %s", params.TraderID, params.TokenID, w)
	}

	record := e.newRecord(params, gateResult.Amount(params.Amount))
	if err := e.trades.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}

	return e.attempt(ctx, record)
}

// RetryTrade re-executes a FAILED trade's original parameters against the
// same trade record. Returns ErrNotRetryable for any other state or when
// attempts are exhausted.
func (e *Executor) RetryTrade(ctx context.Context, tradeID string) (*ExecutionResult, error) {
	record, err := e.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("load trade: %w", err)
	}
	if !record.Retryable() {
		return nil, fmt.Errorf("%w: trade %s is %s with %d attempts",
			ErrNotRetryable, tradeID, record.Status, record.RetryCount)
	}
	return e.attempt(ctx, record)
}

// attempt performs one placement attempt for an existing trade record.
func (e *Executor) attempt(ctx context.Context, record *domain.TradeRecord) (*ExecutionResult, error) {
	start := time.Now()
	fill, expected, placeErr := e.placeOrder(ctx, record)
	latency := time.Since(start).Seconds()
	if placeErr != nil {
		observability.RecordTrade(string(record.Side), string(domain.TradeStatusFailed), latency, -1)
		record.Status = domain.TradeStatusFailed
		record.FailureReason = placeErr.Error()
		record.RetryCount++
		if err := e.trades.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("update failed trade: %w", err)
		}
		e.publish(events.EventTradeFailed, record.TraderID, record)
		return &ExecutionResult{
			TradeID:       record.ID,
			FailureReason: placeErr.Error(),
		}, nil
	}

	slippagePct := 0.0
	if expected > 0 {
		slippagePct = math.Abs(fill.AvgPrice-expected) / expected * 100
	}

	now := time.Now().UTC()
	record.Status = domain.TradeStatusExecuted
	if fill.Status == exchange.OrderStatusPartialFilled {
		record.Status = domain.TradeStatusPartiallyFilled
	}
	record.ExecutedAmount = fill.FilledAmount
	record.Shares = fill.Shares
	record.FillPrice = fill.AvgPrice
	record.SlippagePct = slippagePct
	record.FailureReason = ""
	record.NextRetryAt = nil
	record.ExecutedAt = &now
	observability.RecordTrade(string(record.Side), string(record.Status), latency, slippagePct)
	if err := e.trades.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update executed trade: %w", err)
	}

	if err := e.applyFill(ctx, record); err != nil {
		return nil, fmt.Errorf("apply fill to position: %w", err)
	}

	e.archiveStats(ctx, record.TraderID)
	e.publish(events.EventTradeExecuted, record.TraderID, record)
	e.appendActivity(ctx, "TRADE_EXECUTED", record.TraderID, record.ID,
		fmt.Sprintf("%s %.2f of %s at %.4f", record.Side, fill.FilledAmount, record.TokenID, fill.AvgPrice))

	return &ExecutionResult{
		Success:        true,
		TradeID:        record.ID,
		ExecutedAmount: fill.FilledAmount,
		Shares:         fill.Shares,
		FillPrice:      fill.AvgPrice,
		SlippagePct:    slippagePct,
	}, nil
}

// placeOrder fetches the expected price and places the order. Panics from
// the exchange client are converted to errors so a placement problem can
// never unwind past the executor.
func (e *Executor) placeOrder(ctx context.Context, record *domain.TradeRecord) (fill *exchange.FillResult, expected float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			fill, err = nil, fmt.Errorf("order placement panic: %v", r)
		}
	}()

	quote, err := e.exchange.GetPrice(ctx, record.TokenID)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch quote: %w", err)
	}
	expected = quote.Ask
	if record.Side == domain.SideSell {
		expected = quote.Bid
	}

	// A LIMIT order without a price degrades to market behavior.
	if record.OrderType == domain.OrderTypeLimit && record.LimitPrice != nil {
		fill, err = e.exchange.CreateLimitOrder(ctx, record.TokenID, string(record.Side), record.RequestedAmount, *record.LimitPrice)
	} else {
		fill, err = e.exchange.CreateMarketOrder(ctx, record.TokenID, string(record.Side), record.RequestedAmount)
	}
	if err != nil {
		return nil, expected, fmt.Errorf("place order: %w", err)
	}
	return fill, expected, nil
}

// applyFill updates the position ledger with one executed trade.
func (e *Executor) applyFill(ctx context.Context, record *domain.TradeRecord) error {
	pos, err := e.positions.GetOpen(ctx, record.TraderID, record.MarketID, record.TokenID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()

	if record.Side == domain.SideBuy {
		if pos == nil {
			return e.positions.Insert(ctx, &domain.PositionRecord{
				ID:            uuid.NewString(),
				TraderID:      record.TraderID,
				MarketID:      record.MarketID,
				TokenID:       record.TokenID,
				Outcome:       record.Outcome,
				Shares:        record.Shares,
				AvgEntryPrice: record.FillPrice,
				TotalCost:     record.ExecutedAmount,
				Status:        domain.PositionStatusOpen,
				OpenedAt:      now,
				UpdatedAt:     now,
			})
		}

		newShares := pos.Shares + record.Shares
		if newShares > 0 {
			pos.AvgEntryPrice = (pos.Shares*pos.AvgEntryPrice + record.Shares*record.FillPrice) / newShares
		}
		pos.Shares = newShares
		pos.TotalCost += record.ExecutedAmount
		pos.UpdatedAt = now
		return e.positions.Update(ctx, pos)
	}

	// SELL against nothing held: the fill already happened on the
	// exchange, so log the ledger gap instead of failing the trade.
	if pos == nil {
		e.logger.Printf("executor: sell fill without open position for %s %s/%s",
			record.TraderID, record.MarketID, record.TokenID)
		return nil
	}

	sold := math.Min(record.Shares, pos.Shares)
	pos.Shares -= sold
	pos.RealizedPnL += sold * (record.FillPrice - pos.AvgEntryPrice)
	pos.UpdatedAt = now
	if pos.Shares <= 1e-9 {
		pos.Shares = 0
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = &now
	}
	return e.positions.Update(ctx, pos)
}

// archiveStats recomputes the trader's performance summary and writes it to
// the analytics store. Best-effort: failures are logged, never returned.
func (e *Executor) archiveStats(ctx context.Context, traderID string) {
	if e.stats == nil {
		return
	}
	stats, err := e.ComputeStats(ctx, traderID)
	if err != nil {
		e.logger.Printf("executor: compute stats for %s: %v", traderID, err)
		return
	}
	if err := e.stats.Insert(ctx, stats); err != nil {
		e.logger.Printf("executor: archive stats for %s: %v", traderID, err)
	}
}

// ComputeStats derives a trader's performance summary from the executed
// trade history and position ledger. Wins and losses count closed positions
// by the sign of their realized PnL.
func (e *Executor) ComputeStats(ctx context.Context, traderID string) (*domain.TraderStats, error) {
	trades, err := e.trades.GetByTraderSince(ctx, traderID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	stats := &domain.TraderStats{
		TraderID:   traderID,
		ComputedAt: time.Now().UTC(),
	}
	for _, t := range trades {
		if t.Status == domain.TradeStatusExecuted || t.Status == domain.TradeStatusPartiallyFilled {
			stats.TotalTrades++
			stats.TotalVolume += t.ExecutedAmount
		}
	}

	positions, err := e.positions.ListByTrader(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		stats.RealizedPnL += p.RealizedPnL
		if p.Status != domain.PositionStatusClosed {
			continue
		}
		switch {
		case p.RealizedPnL > 0:
			stats.Wins++
		case p.RealizedPnL < 0:
			stats.Losses++
		}
	}
	if settled := stats.Wins + stats.Losses; settled > 0 {
		stats.WinRate = float64(stats.Wins) / float64(settled)
	}
	return stats, nil
}

func (e *Executor) newRecord(params ExecuteParams, amount float64) *domain.TradeRecord {
	orderType := params.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	return &domain.TradeRecord{
		ID:              uuid.NewString(),
		TraderID:        params.TraderID,
		MarketID:        params.MarketID,
		TokenID:         params.TokenID,
		Outcome:         params.Outcome,
		Side:            params.Side,
		OrderType:       orderType,
		LimitPrice:      params.LimitPrice,
		RequestedAmount: amount,
		Status:          domain.TradeStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

// publish emits a pipeline event. Best-effort: the bus drops on overflow
// and a nil bus is a no-op.
func (e *Executor) publish(t events.EventType, traderID string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: t, TraderID: traderID, Payload: payload})
}

// appendActivity writes an audit line. Best-effort.
func (e *Executor) appendActivity(ctx context.Context, entryType, traderID, tradeID, message string) {
	if e.activity == nil {
		return
	}
	err := e.activity.Append(ctx, &domain.ActivityEntry{
		ID:        uuid.NewString(),
		Type:      entryType,
		TraderID:  traderID,
		TradeID:   tradeID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Printf("executor: append activity: %v", err)
	}
}
