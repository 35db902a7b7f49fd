// Package copier turns observed source-trader position changes into
// sized, risk-checked copy orders.
package copier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/sizing"
	"polymarket-copytrader/internal/storage"
)

const (
	// defaultOutcome is used when the data provider omits the outcome label.
	defaultOutcome = "YES"

	// workerQueueSize bounds the per-trader event backlog. A full queue
	// drops the event rather than stalling the monitor.
	workerQueueSize = 64
)

// TradeExecutor places one risk-checked order.
type TradeExecutor interface {
	Execute(ctx context.Context, params executor.ExecuteParams) (*executor.ExecutionResult, error)
}

// RetryQueuer schedules failed trades for re-execution.
type RetryQueuer interface {
	ScheduleRetry(ctx context.Context, record *domain.TradeRecord) error
}

// Stats counts the orchestrator's copy outcomes since the last reset.
type Stats struct {
	TotalCopied      int
	SuccessfulCopies int
	FailedCopies     int
	SkippedCopies    int
	TotalVolume      float64
}

// Orchestrator consumes position change events and drives the copy
// pipeline. Events for the same source trader are processed strictly in
// order by a dedicated worker; different traders proceed in parallel.
type Orchestrator struct {
	traders  storage.TraderStore
	trades   storage.TradeStore
	sizer    *sizing.Sizer
	executor TradeExecutor
	retrier  RetryQueuer
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[string]chan domain.PositionChangeEvent
	wg      sync.WaitGroup
	stats   Stats
}

// Options configures an Orchestrator.
type Options struct {
	Traders  storage.TraderStore
	Trades   storage.TradeStore
	Sizer    *sizing.Sizer
	Executor TradeExecutor
	Retrier  RetryQueuer
	Logger   *log.Logger
}

// New creates a copy orchestrator. Call Start before feeding events.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		traders:  opts.Traders,
		trades:   opts.Trades,
		sizer:    opts.Sizer,
		executor: opts.Executor,
		retrier:  opts.Retrier,
		logger:   opts.Logger,
		workers:  make(map[string]chan domain.PositionChangeEvent),
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o
}

// Start enables event processing. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
}

// Stop drains nothing: queued events are abandoned, in-flight ones
// finish. Waits for every worker to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.workers = make(map[string]chan domain.PositionChangeEvent)
	o.mu.Unlock()
	o.wg.Wait()
}

// Running reports whether the orchestrator accepts events.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// HandleEvent routes one position change to its trader's worker,
// spawning the worker on first use. Events arriving while stopped, or
// when the trader's queue is full, are dropped.
func (o *Orchestrator) HandleEvent(event domain.PositionChangeEvent) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		o.logger.Printf("copier: dropping %s event for %s, orchestrator stopped", event.Kind, event.TraderID)
		return
	}
	queue, ok := o.workers[event.TraderID]
	if !ok {
		queue = make(chan domain.PositionChangeEvent, workerQueueSize)
		o.workers[event.TraderID] = queue
		o.wg.Add(1)
		go o.workerLoop(o.ctx, event.TraderID, queue)
	}
	o.mu.Unlock()

	select {
	case queue <- event:
	default:
		o.logger.Printf("copier: queue full for %s, dropping %s event", event.TraderID, event.Kind)
		observability.RecordQueueDrop()
		o.countSkip()
	}
}

// workerLoop serializes all copies for one source trader.
func (o *Orchestrator) workerLoop(ctx context.Context, traderID string, queue chan domain.PositionChangeEvent) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-queue:
			o.process(ctx, event)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, event domain.PositionChangeEvent) {
	trader, err := o.traders.GetByID(ctx, event.TraderID)
	if err != nil {
		o.logger.Printf("copier: load trader %s: %v", event.TraderID, err)
		o.countSkip()
		return
	}
	if !trader.IsActive() {
		o.logger.Printf("copier: skipping %s event, trader %s is %s", event.Kind, trader.ID, trader.Status)
		o.countSkip()
		return
	}

	side := domain.SideBuy
	if event.Kind == domain.ChangeDecreased || event.Kind == domain.ChangeClosed {
		side = domain.SideSell
	}

	amount, skipReason := o.copyAmount(ctx, trader, event, side)
	if skipReason != "" {
		o.logger.Printf("copier: skipping %s %s for %s: %s", event.Kind, event.TokenID, trader.ID, skipReason)
		o.countSkip()
		return
	}

	outcome := event.Outcome
	if outcome == "" {
		outcome = defaultOutcome
	}

	o.mu.Lock()
	o.stats.TotalCopied++
	o.mu.Unlock()

	result, err := o.executor.Execute(ctx, executor.ExecuteParams{
		TraderID:  trader.ID,
		MarketID:  event.MarketID,
		TokenID:   event.TokenID,
		Outcome:   outcome,
		Side:      side,
		OrderType: domain.OrderTypeMarket,
		Amount:    amount,
	})
	if err != nil {
		o.logger.Printf("copier: execute %s %s for %s: %v", side, event.TokenID, trader.ID, err)
		o.countFailure()
		return
	}
	if result.Success {
		o.countSuccess(result.ExecutedAmount)
		return
	}

	o.countFailure()
	o.queueRetry(ctx, result.TradeID)
}

// copyAmount sizes the order for one event. A non-empty skip reason
// means no order should be placed.
func (o *Orchestrator) copyAmount(ctx context.Context, trader *domain.TraderProfile, event domain.PositionChangeEvent, side domain.OrderSide) (float64, string) {
	sourceNotional := math.Abs(event.Delta) * event.Price

	if side == domain.SideBuy {
		sized := o.sizer.Size(ctx, trader.ID, sourceNotional, event.TokenID, side)
		if !sized.CanExecute {
			return 0, strings.Join(sized.Reasons, "; ")
		}
		return sized.AdjustedSize, ""
	}

	// SELL mirrors the source's reduction proportionally against what we
	// actually hold.
	pos, err := o.sizer.ExistingPosition(ctx, trader.ID, event.MarketID, event.TokenID)
	if err != nil {
		return 0, fmt.Sprintf("position lookup failed: %v", err)
	}
	if pos == nil || pos.Shares <= 0 {
		return 0, "nothing held to sell"
	}

	fraction := 1.0
	if event.Kind == domain.ChangeDecreased && event.PreviousShares > 0 {
		fraction = math.Abs(event.Delta) / event.PreviousShares
	}
	sellShares := o.sizer.DecreaseSize(ctx, trader.ID, event.TokenID, pos.Shares*fraction)
	if sellShares <= 0 {
		return 0, "nothing held to sell"
	}

	price := event.Price
	if price <= 0 {
		price = pos.AvgEntryPrice
	}
	return sellShares * price, ""
}

// queueRetry hands a failed trade to the retry scheduler when it still
// has attempts left.
func (o *Orchestrator) queueRetry(ctx context.Context, tradeID string) {
	if o.retrier == nil || tradeID == "" {
		return
	}
	record, err := o.trades.GetByID(ctx, tradeID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Printf("copier: load failed trade %s: %v", tradeID, err)
		}
		return
	}
	if !record.Retryable() {
		return
	}
	if err := o.retrier.ScheduleRetry(ctx, record); err != nil {
		o.logger.Printf("copier: schedule retry for %s: %v", tradeID, err)
	}
}

// ManualCopy places one operator-initiated order through the same risk
// gate and executor as automatic copies, bypassing the sizer.
func (o *Orchestrator) ManualCopy(ctx context.Context, params executor.ExecuteParams) (*executor.ExecutionResult, error) {
	if params.Outcome == "" {
		params.Outcome = defaultOutcome
	}
	if params.OrderType == "" {
		params.OrderType = domain.OrderTypeMarket
	}

	o.mu.Lock()
	o.stats.TotalCopied++
	o.mu.Unlock()

	result, err := o.executor.Execute(ctx, params)
	if err != nil {
		o.countFailure()
		return nil, err
	}
	if result.Success {
		o.countSuccess(result.ExecutedAmount)
	} else {
		o.countFailure()
		o.queueRetry(ctx, result.TradeID)
	}
	return result, nil
}

// Stats returns a copy of the running counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// ResetStats zeroes the counters.
func (o *Orchestrator) ResetStats() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats = Stats{}
}

func (o *Orchestrator) countSkip() {
	o.mu.Lock()
	o.stats.SkippedCopies++
	o.mu.Unlock()
	observability.RecordCopy("skipped", 0)
}

func (o *Orchestrator) countFailure() {
	o.mu.Lock()
	o.stats.FailedCopies++
	o.mu.Unlock()
	observability.RecordCopy("failed", 0)
}

func (o *Orchestrator) countSuccess(volume float64) {
	o.mu.Lock()
	o.stats.SuccessfulCopies++
	o.stats.TotalVolume += volume
	o.mu.Unlock()
	observability.RecordCopy("success", volume)
}
