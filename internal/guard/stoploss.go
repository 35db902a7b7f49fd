package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/storage"
)

const defaultStopInterval = 5 * time.Second

// Trigger names the exit rule that fired.
type Trigger string

const (
	TriggerStopLoss     Trigger = "STOP_LOSS"
	TriggerTrailingStop Trigger = "TRAILING_STOP"
	TriggerTakeProfit   Trigger = "TAKE_PROFIT"
)

// StopTrigger is the payload published when an exit fires.
type StopTrigger struct {
	PositionID string
	TraderID   string
	TokenID    string
	Trigger    Trigger
	Price      float64
	EntryPrice float64
	Shares     float64
}

// ExitExecutor places the exit order for a triggered position.
type ExitExecutor interface {
	Execute(ctx context.Context, params executor.ExecuteParams) (*executor.ExecutionResult, error)
}

// stopWatch is the mutable per-position state: the high-water price a
// trailing stop ratchets from.
type stopWatch struct {
	traderID  string
	highWater float64
}

// StopGuard watches open positions and exits them when a stop-loss,
// trailing stop, or take-profit level is crossed. Levels come from the
// owning trader's overrides and are re-read every sweep, so an operator
// change takes effect without re-registering positions.
type StopGuard struct {
	traders   storage.TraderStore
	positions storage.PositionStore
	exchange  exchange.Client
	executor  ExitExecutor
	activity  storage.ActivityStore
	bus       *events.Bus
	logger    *log.Logger
	interval  time.Duration

	mu      sync.Mutex
	watches map[string]*stopWatch
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// StopOptions configures a StopGuard.
type StopOptions struct {
	Traders   storage.TraderStore
	Positions storage.PositionStore
	Exchange  exchange.Client
	Executor  ExitExecutor
	Activity  storage.ActivityStore
	Bus       *events.Bus
	Logger    *log.Logger
	Interval  time.Duration
}

// NewStopGuard creates a stop-loss / take-profit guard.
func NewStopGuard(opts StopOptions) *StopGuard {
	g := &StopGuard{
		traders:   opts.Traders,
		positions: opts.Positions,
		exchange:  opts.Exchange,
		executor:  opts.Executor,
		activity:  opts.Activity,
		bus:       opts.Bus,
		logger:    opts.Logger,
		interval:  opts.Interval,
		watches:   make(map[string]*stopWatch),
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.interval <= 0 {
		g.interval = defaultStopInterval
	}
	return g
}

// Start registers every open position whose trader has an exit rule
// configured, then begins the periodic sweep. Idempotent.
func (g *StopGuard) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	var guardCtx context.Context
	guardCtx, g.cancel = context.WithCancel(ctx)
	g.running = true
	g.mu.Unlock()

	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for _, pos := range open {
		if err := g.AddPosition(ctx, pos.ID); err != nil {
			g.logger.Printf("stopguard: register %s: %v", pos.ID, err)
		}
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-guardCtx.Done():
				return
			case <-ticker.C:
				g.CheckAll(guardCtx)
			}
		}
	}()
	return nil
}

// Stop halts the sweep and waits for it.
func (g *StopGuard) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.cancel()
	g.mu.Unlock()
	g.wg.Wait()
}

// AddPosition starts watching one open position. Positions whose trader
// has no stop-loss, trailing stop, or take-profit configured are ignored.
func (g *StopGuard) AddPosition(ctx context.Context, positionID string) error {
	pos, err := g.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("position %s is %s", positionID, pos.Status)
	}
	trader, err := g.traders.GetByID(ctx, pos.TraderID)
	if err != nil {
		return fmt.Errorf("load trader: %w", err)
	}
	if !hasExitRules(trader) {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.watches[positionID]; !ok {
		g.watches[positionID] = &stopWatch{
			traderID:  pos.TraderID,
			highWater: pos.AvgEntryPrice,
		}
	}
	return nil
}

// UpdateLevels replaces a trader's exit levels and re-registers its open
// positions. Nil levels clear the corresponding rule; clearing all three
// drops the trader's watches. High-water marks are re-based to entry so a
// new trailing percentage starts fresh.
func (g *StopGuard) UpdateLevels(ctx context.Context, traderID string, stopLoss, takeProfit, trailing *float64) error {
	trader, err := g.traders.GetByID(ctx, traderID)
	if err != nil {
		return fmt.Errorf("load trader: %w", err)
	}
	overrides := trader.Overrides
	overrides.StopLossPercent = stopLoss
	overrides.TakeProfitPercent = takeProfit
	overrides.TrailingStopPercent = trailing
	if err := g.traders.UpdateOverrides(ctx, traderID, overrides); err != nil {
		return fmt.Errorf("update overrides: %w", err)
	}

	if stopLoss == nil && takeProfit == nil && trailing == nil {
		g.mu.Lock()
		for id, w := range g.watches {
			if w.traderID == traderID {
				delete(g.watches, id)
			}
		}
		g.mu.Unlock()
		return nil
	}

	positions, err := g.positions.ListOpenByTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	g.mu.Lock()
	for _, pos := range positions {
		g.watches[pos.ID] = &stopWatch{
			traderID:  traderID,
			highWater: pos.AvgEntryPrice,
		}
	}
	g.mu.Unlock()
	return nil
}

// RemovePosition stops watching a position. Reports whether it was watched.
func (g *StopGuard) RemovePosition(positionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.watches[positionID]
	delete(g.watches, positionID)
	return ok
}

// Watched returns the watched position IDs, sorted.
func (g *StopGuard) Watched() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.watches))
	for id := range g.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CheckAll evaluates every watched position once. A fetch failure on one
// position skips it for this sweep, it stays watched.
func (g *StopGuard) CheckAll(ctx context.Context) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.watches))
	for id := range g.watches {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		g.checkPosition(ctx, id)
	}
}

func (g *StopGuard) checkPosition(ctx context.Context, positionID string) {
	pos, err := g.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.RemovePosition(positionID)
			return
		}
		g.logger.Printf("stopguard: load position %s: %v", positionID, err)
		return
	}
	if pos.Status != domain.PositionStatusOpen || pos.Shares <= 0 {
		g.RemovePosition(positionID)
		return
	}

	trader, err := g.traders.GetByID(ctx, pos.TraderID)
	if err != nil {
		g.logger.Printf("stopguard: load trader %s: %v", pos.TraderID, err)
		return
	}
	if !hasExitRules(trader) {
		g.RemovePosition(positionID)
		return
	}

	quote, err := g.exchange.GetPrice(ctx, pos.TokenID)
	if err != nil {
		g.logger.Printf("stopguard: quote %s: %v", pos.TokenID, err)
		return
	}
	price := quote.Bid

	g.mu.Lock()
	watch, ok := g.watches[positionID]
	if !ok {
		g.mu.Unlock()
		return
	}
	watch.highWater = math.Max(watch.highWater, price)
	highWater := watch.highWater
	g.mu.Unlock()

	trigger := evaluateTriggers(trader.Overrides, pos.AvgEntryPrice, highWater, price)
	if trigger == "" {
		return
	}

	// Drop the watch before firing so a slow exit cannot double-trigger.
	g.RemovePosition(positionID)
	g.fire(ctx, pos, trigger, price)
}

// evaluateTriggers checks the exit rules in priority order: stop-loss,
// then trailing stop, then take-profit.
func evaluateTriggers(o domain.RiskOverrides, entry, highWater, price float64) Trigger {
	if o.StopLossPercent != nil && price <= entry*(1-*o.StopLossPercent/100) {
		return TriggerStopLoss
	}
	if o.TrailingStopPercent != nil && price <= highWater*(1-*o.TrailingStopPercent/100) {
		return TriggerTrailingStop
	}
	if o.TakeProfitPercent != nil && price >= entry*(1+*o.TakeProfitPercent/100) {
		return TriggerTakeProfit
	}
	return ""
}

// fire exits the full position at market. The trigger is recorded in the
// activity log whether or not the exit order succeeds.
func (g *StopGuard) fire(ctx context.Context, pos *domain.PositionRecord, trigger Trigger, price float64) {
	g.logger.Printf("stopguard: %s fired for %s %s at %.4f (entry %.4f, %.2f shares)",
		trigger, pos.TraderID, pos.TokenID, price, pos.AvgEntryPrice, pos.Shares)

	result, err := g.executor.Execute(ctx, executor.ExecuteParams{
		TraderID:  pos.TraderID,
		MarketID:  pos.MarketID,
		TokenID:   pos.TokenID,
		Outcome:   pos.Outcome,
		Side:      domain.SideSell,
		OrderType: domain.OrderTypeMarket,
		Amount:    pos.Shares * price,
	})

	outcome := "exit placed"
	switch {
	case err != nil:
		outcome = fmt.Sprintf("exit error: %v", err)
		g.logger.Printf("stopguard: exit %s: %v", pos.ID, err)
	case !result.Success:
		outcome = fmt.Sprintf("exit failed: %s", result.FailureReason)
	}

	g.appendActivity(ctx, pos, fmt.Sprintf("%s at %.4f on %s (entry %.4f): %s",
		trigger, price, pos.TokenID, pos.AvgEntryPrice, outcome))
	g.publish(events.EventStopTriggered, pos.TraderID, StopTrigger{
		PositionID: pos.ID,
		TraderID:   pos.TraderID,
		TokenID:    pos.TokenID,
		Trigger:    trigger,
		Price:      price,
		EntryPrice: pos.AvgEntryPrice,
		Shares:     pos.Shares,
	})
}

func hasExitRules(trader *domain.TraderProfile) bool {
	o := trader.Overrides
	return o.StopLossPercent != nil || o.TakeProfitPercent != nil || o.TrailingStopPercent != nil
}

func (g *StopGuard) publish(t events.EventType, traderID string, payload any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.Event{Type: t, TraderID: traderID, Payload: payload})
}

func (g *StopGuard) appendActivity(ctx context.Context, pos *domain.PositionRecord, message string) {
	if g.activity == nil {
		return
	}
	err := g.activity.Append(ctx, &domain.ActivityEntry{
		ID:        uuid.NewString(),
		Type:      "STOP_TRIGGERED",
		TraderID:  pos.TraderID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Printf("stopguard: append activity: %v", err)
	}
}
