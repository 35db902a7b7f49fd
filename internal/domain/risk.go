package domain

// RiskLimits are the global risk defaults. Per-trader RiskOverrides take
// precedence field by field when set.
type RiskLimits struct {
	MaxPositionSize    float64 // USD cap per (market, token) position
	MaxDrawdownPercent float64
	DailyLossLimit     float64 // USD; dailyPnl <= -limit rejects new trades
	MaxOpenPositions   int
	MaxSlippagePercent float64
	MinTradeAmount     float64 // USD
}

// DefaultRiskLimits returns the global defaults used when the operator has
// not configured limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:    500,
		MaxDrawdownPercent: 20,
		DailyLossLimit:     100,
		MaxOpenPositions:   20,
		MaxSlippagePercent: 5,
		MinTradeAmount:     1,
	}
}

// RiskMetrics are the account measurements computed during a risk check.
// They are returned with every RiskCheckResult, including rejections,
// populated as far as the check chain progressed.
type RiskMetrics struct {
	CurrentDrawdown    float64 // percent decline from peak equity, >= 0
	DailyPnL           float64 // sum of executed-requested over today's executed trades
	OpenPositionValue  float64 // sum of shares * avg entry over open positions
	AvailableBalance   float64
	EstimatedSlippage  float64 // percent
}

// RiskCheckResult is the outcome of one pre-trade risk gate run. It is a
// value, not an error: rejections are expected outcomes with a
// human-readable reason. Never persisted directly, only logged.
type RiskCheckResult struct {
	Approved        bool
	AdjustedAmount  *float64 // set when the gate shrank the amount to fit a cap
	Warnings        []string
	RejectionReason string
	Metrics         RiskMetrics
}

// Amount returns the amount the gate approved: the adjusted amount when one
// was applied, otherwise the requested amount.
func (r *RiskCheckResult) Amount(requested float64) float64 {
	if r.AdjustedAmount != nil {
		return *r.AdjustedAmount
	}
	return requested
}

// SizingResult is the outcome of position sizing for one source trade.
// Same lifecycle as RiskCheckResult: produced fresh per call, never stored.
type SizingResult struct {
	RecommendedSize   float64
	AdjustedSize      float64 // after slippage shrink; equals RecommendedSize otherwise
	Reasons           []string
	CanExecute        bool
	EstimatedSlippage float64 // percent
}
