package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/storage"
)

// CheckParams describes one proposed trade for the gate.
type CheckParams struct {
	TraderID string
	MarketID string
	TokenID  string
	Side     domain.OrderSide
	Amount   float64 // USDC notional
}

// Gate runs pre-trade risk checks in a fixed order, short-circuiting at the
// first rejection. Each rejection still reports the metrics computed so far.
type Gate struct {
	traders   storage.TraderStore
	trades    storage.TradeStore
	positions storage.PositionStore
	exchange  exchange.Client
	logger    *log.Logger

	mu     sync.RWMutex
	global domain.RiskLimits
}

// GateOptions configures a Gate.
type GateOptions struct {
	Traders   storage.TraderStore
	Trades    storage.TradeStore
	Positions storage.PositionStore
	Exchange  exchange.Client
	Limits    *domain.RiskLimits // nil uses DefaultRiskLimits
	Logger    *log.Logger
}

// NewGate creates a risk gate.
func NewGate(opts GateOptions) *Gate {
	g := &Gate{
		traders:   opts.Traders,
		trades:    opts.Trades,
		positions: opts.Positions,
		exchange:  opts.Exchange,
		global:    domain.DefaultRiskLimits(),
		logger:    opts.Logger,
	}
	if opts.Limits != nil {
		g.global = *opts.Limits
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	return g
}

// SetGlobalLimits replaces the global limits at runtime.
func (g *Gate) SetGlobalLimits(limits domain.RiskLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.global = limits
}

// GetGlobalLimits returns a copy of the current global limits.
func (g *Gate) GetGlobalLimits() domain.RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.global
}

func reject(result *domain.RiskCheckResult, check, reason string) *domain.RiskCheckResult {
	observability.RecordRiskRejection(check)
	result.Approved = false
	result.RejectionReason = reason
	return result
}

// Check validates one proposed trade. Gating rejections are result values;
// an error is returned only for store or balance-fetch failures.
func (g *Gate) Check(ctx context.Context, params CheckParams) (*domain.RiskCheckResult, error) {
	result := &domain.RiskCheckResult{Approved: true}

	// 1. Trader existence.
	trader, err := g.traders.GetByID(ctx, params.TraderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return reject(result, "trader_exists", fmt.Sprintf("trader %s not found", params.TraderID)), nil
		}
		return nil, fmt.Errorf("load trader: %w", err)
	}
	limits := EffectiveLimits(g.GetGlobalLimits(), trader)

	// 2. Balance. SELL frees collateral and always passes this check.
	balance, err := g.exchange.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	result.Metrics.AvailableBalance = balance

	amount := params.Amount
	if params.Side == domain.SideBuy {
		if amount > balance {
			return reject(result, "balance", fmt.Sprintf("insufficient balance: need %.2f, have %.2f", amount, balance)), nil
		}
		if balance-amount < 5 {
			result.Warnings = append(result.Warnings, "trade leaves less than $5 of balance")
		}
	}

	// 3. Max position size for this (trader, market, token).
	current := 0.0
	if pos, err := g.positions.GetOpen(ctx, params.TraderID, params.MarketID, params.TokenID); err == nil {
		current = pos.Value()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}

	if params.Side == domain.SideBuy && current+amount > limits.MaxPositionSize {
		headroom := limits.MaxPositionSize - current
		if headroom < 1 {
			return reject(result, "position_size", fmt.Sprintf(
				"position size limit reached: %.2f held, cap %.2f", current, limits.MaxPositionSize)), nil
		}
		amount = headroom
		result.AdjustedAmount = &amount
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"amount reduced to %.2f to fit position size cap %.2f", amount, limits.MaxPositionSize))
	}

	// 4. Drawdown against peak equity.
	openValue, err := g.openPositionValue(ctx, params.TraderID)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	result.Metrics.OpenPositionValue = openValue

	drawdown := Drawdown(trader.PeakBalance, balance+openValue)
	result.Metrics.CurrentDrawdown = drawdown
	if drawdown >= limits.MaxDrawdownPercent {
		return reject(result, "drawdown", fmt.Sprintf(
			"drawdown %.1f%% exceeds limit %.1f%%", drawdown, limits.MaxDrawdownPercent)), nil
	}
	if drawdown >= limits.MaxDrawdownPercent*0.8 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("approaching drawdown limit: %.1f%%", drawdown))
	}

	// 5. Daily loss.
	dailyPnL, err := g.dailyPnL(ctx, params.TraderID)
	if err != nil {
		return nil, fmt.Errorf("compute daily pnl: %w", err)
	}
	result.Metrics.DailyPnL = dailyPnL
	if limits.DailyLossLimit > 0 {
		if dailyPnL <= -limits.DailyLossLimit {
			return reject(result, "daily_loss", fmt.Sprintf(
				"daily loss limit reached: %.2f, limit %.2f", dailyPnL, limits.DailyLossLimit)), nil
		}
		if dailyPnL <= -limits.DailyLossLimit*0.8 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("approaching daily loss limit: %.2f", dailyPnL))
		}
	}

	// 6. Max open positions.
	openCount, err := g.positions.CountOpenByTrader(ctx, params.TraderID)
	if err != nil {
		return nil, fmt.Errorf("count open positions: %w", err)
	}
	if params.Side == domain.SideBuy && current == 0 && openCount >= limits.MaxOpenPositions {
		return reject(result, "open_positions", fmt.Sprintf("max open positions reached: %d", openCount)), nil
	}

	// 7. Slippage. Estimation errors degrade to a warning.
	frac, err := g.exchange.EstimateSlippage(ctx, params.TokenID, string(params.Side), amount)
	if err != nil {
		g.logger.Printf("risk gate: slippage estimation failed for %s: %v", params.TokenID, err)
		result.Warnings = append(result.Warnings, "slippage estimation unavailable")
	} else {
		estPct := frac * 100
		result.Metrics.EstimatedSlippage = estPct
		if estPct > limits.MaxSlippagePercent {
			return reject(result, "slippage", fmt.Sprintf(
				"estimated slippage %.2f%% exceeds tolerance %.2f%%", estPct, limits.MaxSlippagePercent)), nil
		}
		if estPct >= limits.MaxSlippagePercent*0.7 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("high estimated slippage: %.2f%%", estPct))
		}
	}

	// 8. Minimum trade amount, against the possibly adjusted amount.
	if amount < limits.MinTradeAmount {
		return reject(result, "min_amount", fmt.Sprintf(
			"amount %.2f below minimum %.2f", amount, limits.MinTradeAmount)), nil
	}

	return result, nil
}

func (g *Gate) openPositionValue(ctx context.Context, traderID string) (float64, error) {
	positions, err := g.positions.ListOpenByTrader(ctx, traderID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		total += p.Value()
	}
	return total, nil
}

// dailyPnL sums executed-minus-requested over today's executed trades.
func (g *Gate) dailyPnL(ctx context.Context, traderID string) (float64, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	trades, err := g.trades.GetByTraderSince(ctx, traderID, startOfDay)
	if err != nil {
		return 0, err
	}

	var pnl float64
	for _, t := range trades {
		if t.Status == domain.TradeStatusExecuted {
			pnl += t.ExecutedAmount - t.RequestedAmount
		}
	}
	return pnl, nil
}
