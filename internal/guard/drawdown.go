// Package guard runs the background protections: drawdown auto-pause and
// stop-loss / take-profit exits.
package guard

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/storage"
)

const defaultDrawdownInterval = 30 * time.Second

// AlertLevel grades how close a trader's drawdown is to its limit.
type AlertLevel string

const (
	AlertNone         AlertLevel = ""
	AlertWarn         AlertLevel = "WARN"          // >= 70% of the limit
	AlertCritical     AlertLevel = "CRITICAL"      // >= 90% of the limit
	AlertLimitReached AlertLevel = "LIMIT_REACHED" // at or past the limit
)

// DrawdownAlert is the payload published with drawdown events.
type DrawdownAlert struct {
	TraderID    string
	Level       AlertLevel
	DrawdownPct float64
	PeakEquity  float64
	Equity      float64
	DailyPnL    float64
	WeeklyPnL   float64
}

// DrawdownGuard periodically measures each active trader's equity against
// its peak, ratchets the peak upward, alerts as drawdown approaches the
// limit, and pauses the trader when the limit is hit.
type DrawdownGuard struct {
	traders   storage.TraderStore
	positions storage.PositionStore
	trades    storage.TradeStore
	exchange  exchange.Client
	activity  storage.ActivityStore
	bus       *events.Bus
	logger    *log.Logger
	interval  time.Duration

	globalLimits func() domain.RiskLimits

	mu      sync.Mutex
	levels  map[string]AlertLevel
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DrawdownOptions configures a DrawdownGuard.
type DrawdownOptions struct {
	Traders   storage.TraderStore
	Positions storage.PositionStore
	Trades    storage.TradeStore // optional, adds realized PnL to alerts
	Exchange  exchange.Client
	Activity  storage.ActivityStore
	Bus       *events.Bus
	Logger    *log.Logger
	Interval  time.Duration

	// GlobalLimits supplies the current global risk limits; nil uses
	// DefaultRiskLimits.
	GlobalLimits func() domain.RiskLimits
}

// NewDrawdownGuard creates a drawdown guard.
func NewDrawdownGuard(opts DrawdownOptions) *DrawdownGuard {
	g := &DrawdownGuard{
		traders:      opts.Traders,
		positions:    opts.Positions,
		trades:       opts.Trades,
		exchange:     opts.Exchange,
		activity:     opts.Activity,
		bus:          opts.Bus,
		logger:       opts.Logger,
		interval:     opts.Interval,
		globalLimits: opts.GlobalLimits,
		levels:       make(map[string]AlertLevel),
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.interval <= 0 {
		g.interval = defaultDrawdownInterval
	}
	if g.globalLimits == nil {
		g.globalLimits = domain.DefaultRiskLimits
	}
	return g
}

// Start begins the periodic sweep. Idempotent.
func (g *DrawdownGuard) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	var guardCtx context.Context
	guardCtx, g.cancel = context.WithCancel(ctx)
	g.running = true

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
}

// Stop halts the sweep and waits for it.
func (g *DrawdownGuard) Stop() {
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

// CheckAll runs one drawdown sweep over every active trader.
func (g *DrawdownGuard) CheckAll(ctx context.Context) {
	traders, err := g.traders.ListByStatus(ctx, domain.TraderStatusActive)
	if err != nil {
		g.logger.Printf("drawdown: list traders: %v", err)
		return
	}
	balance, err := g.exchange.GetBalance(ctx)
	if err != nil {
		g.logger.Printf("drawdown: fetch balance: %v", err)
		return
	}
	for _, trader := range traders {
		if err := g.checkTrader(ctx, trader, balance); err != nil {
			g.logger.Printf("drawdown: trader %s: %v", trader.ID, err)
		}
	}
}

func (g *DrawdownGuard) checkTrader(ctx context.Context, trader *domain.TraderProfile, balance float64) error {
	positions, err := g.positions.ListOpenByTrader(ctx, trader.ID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	equity := balance
	for _, p := range positions {
		equity += p.Value()
	}

	// New high-water mark: ratchet the peak and clear any alert.
	if equity > trader.PeakBalance {
		if err := g.traders.UpdatePeakBalance(ctx, trader.ID, equity); err != nil {
			return fmt.Errorf("update peak: %w", err)
		}
		g.setLevel(trader.ID, AlertNone)
		observability.UpdateDrawdown(trader.ID, 0)
		return nil
	}

	limits := risk.EffectiveLimits(g.globalLimits(), trader)
	if limits.MaxDrawdownPercent <= 0 {
		return nil
	}

	dd := risk.Drawdown(trader.PeakBalance, equity)
	observability.UpdateDrawdown(trader.ID, dd)
	level := gradeDrawdown(dd, limits.MaxDrawdownPercent)
	previous := g.currentLevel(trader.ID)

	// LIMIT_REACHED re-alerts every sweep; lower levels only on change.
	if level == previous && level != AlertLimitReached {
		return nil
	}
	g.setLevel(trader.ID, level)
	if level == AlertNone {
		return nil
	}

	daily, weekly := g.realizedPnL(ctx, trader.ID)
	alert := DrawdownAlert{
		TraderID:    trader.ID,
		Level:       level,
		DrawdownPct: dd,
		PeakEquity:  trader.PeakBalance,
		Equity:      equity,
		DailyPnL:    daily,
		WeeklyPnL:   weekly,
	}
	g.logger.Printf("drawdown: %s %s at %.2f%% of equity (limit %.2f%%)",
		trader.ID, level, dd, limits.MaxDrawdownPercent)
	g.publish(events.EventDrawdownAlert, trader.ID, alert)

	if level != AlertLimitReached {
		return nil
	}

	if err := g.traders.UpdateStatus(ctx, trader.ID, domain.TraderStatusPaused); err != nil {
		return fmt.Errorf("pause trader: %w", err)
	}
	observability.RecordTraderPaused()
	g.logger.Printf("drawdown: paused %s, drawdown %.2f%% breached limit %.2f%%",
		trader.ID, dd, limits.MaxDrawdownPercent)
	g.publish(events.EventTraderPaused, trader.ID, alert)
	g.appendActivity(ctx, trader.ID, fmt.Sprintf(
		"paused at %.2f%% drawdown (limit %.2f%%), peak %.2f, equity %.2f",
		dd, limits.MaxDrawdownPercent, trader.PeakBalance, equity))
	return nil
}

// realizedPnL sums executed-vs-requested differences over the current UTC
// day and the trailing week. Best effort, zeros without a trade store.
func (g *DrawdownGuard) realizedPnL(ctx context.Context, traderID string) (daily, weekly float64) {
	if g.trades == nil {
		return 0, 0
	}
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	trades, err := g.trades.GetByTraderSince(ctx, traderID, now.AddDate(0, 0, -7))
	if err != nil {
		g.logger.Printf("drawdown: load trades for %s: %v", traderID, err)
		return 0, 0
	}
	for _, t := range trades {
		if t.Status != domain.TradeStatusExecuted {
			continue
		}
		delta := t.ExecutedAmount - t.RequestedAmount
		weekly += delta
		if !t.CreatedAt.Before(startOfDay) {
			daily += delta
		}
	}
	return daily, weekly
}

// ResetPeakBalance re-bases a trader's high-water mark to current equity,
// clearing the drawdown measurement. Used after an intentional withdrawal
// or when resuming a paused trader.
func (g *DrawdownGuard) ResetPeakBalance(ctx context.Context, traderID string) error {
	trader, err := g.traders.GetByID(ctx, traderID)
	if err != nil {
		return fmt.Errorf("load trader: %w", err)
	}
	balance, err := g.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	positions, err := g.positions.ListOpenByTrader(ctx, trader.ID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	equity := balance
	for _, p := range positions {
		equity += p.Value()
	}

	if err := g.traders.UpdatePeakBalance(ctx, traderID, equity); err != nil {
		return fmt.Errorf("update peak: %w", err)
	}
	g.setLevel(traderID, AlertNone)
	g.logger.Printf("drawdown: reset peak for %s to %.2f", traderID, equity)
	return nil
}

// Level returns the trader's current alert level.
func (g *DrawdownGuard) Level(traderID string) AlertLevel {
	return g.currentLevel(traderID)
}

func gradeDrawdown(dd, limit float64) AlertLevel {
	switch ratio := dd / limit; {
	case ratio >= 1.0:
		return AlertLimitReached
	case ratio >= 0.9:
		return AlertCritical
	case ratio >= 0.7:
		return AlertWarn
	default:
		return AlertNone
	}
}

func (g *DrawdownGuard) currentLevel(traderID string) AlertLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[traderID]
}

func (g *DrawdownGuard) setLevel(traderID string, level AlertLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if level == AlertNone {
		delete(g.levels, traderID)
		return
	}
	g.levels[traderID] = level
}

func (g *DrawdownGuard) publish(t events.EventType, traderID string, payload any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.Event{Type: t, TraderID: traderID, Payload: payload})
}

func (g *DrawdownGuard) appendActivity(ctx context.Context, traderID, message string) {
	if g.activity == nil {
		return
	}
	err := g.activity.Append(ctx, &domain.ActivityEntry{
		ID:        uuid.NewString(),
		Type:      "DRAWDOWN_PAUSE",
		TraderID:  traderID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		g.logger.Printf("drawdown: append activity: %v", err)
	}
}
