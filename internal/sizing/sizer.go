package sizing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/storage"
)

// balanceSafetyBuffer keeps one unit of collateral unspent so fee rounding
// cannot push an order past the available balance.
const balanceSafetyBuffer = 1.0

// Sizer computes a safe copy amount for one source trade. Sizing outcomes
// are result values; a failed balance fetch yields canExecute=false rather
// than an error.
type Sizer struct {
	traders   storage.TraderStore
	positions storage.PositionStore
	exchange  exchange.Client
	logger    *log.Logger

	globalLimits func() domain.RiskLimits
}

// Options configures a Sizer.
type Options struct {
	Traders   storage.TraderStore
	Positions storage.PositionStore
	Exchange  exchange.Client
	Logger    *log.Logger

	// GlobalLimits supplies the current global risk limits; nil uses
	// DefaultRiskLimits. Wiring it to Gate.GetGlobalLimits keeps sizer
	// and gate in agreement when limits change at runtime.
	GlobalLimits func() domain.RiskLimits
}

// New creates a position sizer.
func New(opts Options) *Sizer {
	s := &Sizer{
		traders:      opts.Traders,
		positions:    opts.Positions,
		exchange:     opts.Exchange,
		logger:       opts.Logger,
		globalLimits: opts.GlobalLimits,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.globalLimits == nil {
		s.globalLimits = domain.DefaultRiskLimits
	}
	return s
}

func cannotExecute(reason string) *domain.SizingResult {
	return &domain.SizingResult{
		Reasons:    []string{reason},
		CanExecute: false,
	}
}

// Size computes the copy amount for a source trade of the given USDC
// notional.
func (s *Sizer) Size(ctx context.Context, traderID string, sourceTradeSize float64, tokenID string, side domain.OrderSide) *domain.SizingResult {
	trader, err := s.traders.GetByID(ctx, traderID)
	if err != nil {
		return cannotExecute(fmt.Sprintf("trader %s unavailable: %v", traderID, err))
	}
	limits := risk.EffectiveLimits(s.globalLimits(), trader)

	balance, err := s.exchange.GetBalance(ctx)
	if err != nil {
		s.logger.Printf("sizer: balance fetch failed for %s: %v", traderID, err)
		return cannotExecute("balance unavailable")
	}

	result := &domain.SizingResult{CanExecute: true}

	// Allocation cap: the slice of balance this trader's copies may use,
	// bounded by the position size cap.
	allocationCap := balance * trader.Overrides.AllocationPercent / 100
	if allocationCap > limits.MaxPositionSize {
		allocationCap = limits.MaxPositionSize
	}

	// Never copy more than the source actually traded.
	recommended := math.Min(allocationCap, sourceTradeSize)

	if recommended < limits.MinTradeAmount {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"size %.2f below minimum trade amount %.2f", recommended, limits.MinTradeAmount))
		recommended = 0
	}

	if recommended > limits.MaxPositionSize {
		recommended = limits.MaxPositionSize
		result.Reasons = append(result.Reasons, "capped to max position size")
	}
	if recommended > balance-balanceSafetyBuffer {
		recommended = balance - balanceSafetyBuffer
		result.Reasons = append(result.Reasons, "capped to available balance")
	}
	if recommended < 0 {
		recommended = 0
	}
	result.RecommendedSize = recommended
	result.AdjustedSize = recommended

	if recommended > 0 {
		frac, err := s.exchange.EstimateSlippage(ctx, tokenID, string(side), recommended)
		if err != nil {
			s.logger.Printf("sizer: slippage estimate failed for %s: %v", tokenID, err)
			result.Reasons = append(result.Reasons, "slippage estimate unavailable")
		} else {
			estPct := frac * 100
			result.EstimatedSlippage = estPct
			if estPct > limits.MaxSlippagePercent && estPct > 0 {
				result.AdjustedSize = recommended * (limits.MaxSlippagePercent / estPct)
				result.Reasons = append(result.Reasons, fmt.Sprintf(
					"shrunk from %.2f to %.2f for %.2f%% estimated slippage",
					recommended, result.AdjustedSize, estPct))
			}
		}
	}

	result.CanExecute = result.AdjustedSize >= limits.MinTradeAmount && result.AdjustedSize <= balance
	if !result.CanExecute && len(result.Reasons) == 0 {
		result.Reasons = append(result.Reasons, "adjusted size outside executable bounds")
	}
	return result
}

// ExistingPosition returns the trader's open position for a market token,
// or nil when none is held.
func (s *Sizer) ExistingPosition(ctx context.Context, traderID, marketID, tokenID string) (*domain.PositionRecord, error) {
	pos, err := s.positions.GetOpen(ctx, traderID, marketID, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pos, nil
}

// IncreaseSize caps an addition to an existing position by the remaining
// max-position headroom. When the trader or a limit cannot be resolved, the
// requested amount is returned unchanged.
func (s *Sizer) IncreaseSize(ctx context.Context, traderID string, existingValue, additionalAmount float64) float64 {
	trader, err := s.traders.GetByID(ctx, traderID)
	if err != nil {
		return additionalAmount
	}
	limits := risk.EffectiveLimits(s.globalLimits(), trader)
	if limits.MaxPositionSize <= 0 {
		return additionalAmount
	}

	headroom := limits.MaxPositionSize - existingValue
	if headroom <= 0 {
		return 0
	}
	return math.Min(additionalAmount, headroom)
}

// DecreaseSize caps a reduction to the shares actually held; zero when the
// trader holds nothing in the token.
func (s *Sizer) DecreaseSize(ctx context.Context, traderID, tokenID string, requestedShares float64) float64 {
	positions, err := s.positions.ListOpenByTrader(ctx, traderID)
	if err != nil {
		s.logger.Printf("sizer: list positions failed for %s: %v", traderID, err)
		return 0
	}
	for _, p := range positions {
		if p.TokenID == tokenID {
			return math.Min(requestedShares, p.Shares)
		}
	}
	return 0
}
