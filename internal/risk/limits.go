package risk

import "polymarket-copytrader/internal/domain"

// EffectiveLimits resolves the limits for one trader: each override field
// set on the profile wins over the global default.
func EffectiveLimits(global domain.RiskLimits, trader *domain.TraderProfile) domain.RiskLimits {
	limits := global
	if trader == nil {
		return limits
	}

	o := trader.Overrides
	if o.MaxPositionSize != nil {
		limits.MaxPositionSize = *o.MaxPositionSize
	}
	if o.MinTradeAmount != nil {
		limits.MinTradeAmount = *o.MinTradeAmount
	}
	if o.SlippageTolerance != nil {
		limits.MaxSlippagePercent = *o.SlippageTolerance
	}
	if o.MaxDrawdownPercent != nil {
		limits.MaxDrawdownPercent = *o.MaxDrawdownPercent
	}
	return limits
}

// Drawdown computes the percent decline of equity from its peak.
// Returns 0 when there is no decline or no recorded peak.
func Drawdown(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity) / peak * 100
	if dd < 0 {
		return 0
	}
	return dd
}
