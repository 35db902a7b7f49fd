package domain

import "time"

// TraderStatus is the lifecycle state of a monitored source trader.
type TraderStatus string

const (
	TraderStatusActive   TraderStatus = "ACTIVE"
	TraderStatusPaused   TraderStatus = "PAUSED"
	TraderStatusDisabled TraderStatus = "DISABLED"
)

// RiskOverrides holds per-trader risk parameters. Nil pointer fields fall
// back to the global RiskLimits defaults; resolution lives in internal/risk.
type RiskOverrides struct {
	AllocationPercent   float64  // fraction of balance copied trades may use (default 10)
	MaxPositionSize     *float64 // USD cap per (market, token) position
	MinTradeAmount      *float64 // USD floor per copied trade
	SlippageTolerance   *float64 // percent, e.g. 3.0 = 3%
	MaxDrawdownPercent  *float64 // auto-pause threshold
	StopLossPercent     *float64 // position close trigger below entry
	TakeProfitPercent   *float64 // position close trigger above entry
	TrailingStopPercent *float64 // ratcheting stop below high-water price
}

// TraderProfile identifies a source trader being mirrored.
// PeakBalance is the high-water equity mark used for drawdown calculation;
// it is updated by the drawdown guard and reset via ResetPeakBalance.
type TraderProfile struct {
	ID            string
	Name          string
	WalletAddress string
	Status        TraderStatus
	PeakBalance   float64
	Overrides     RiskOverrides
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive reports whether the trader's positions should be copied.
func (t *TraderProfile) IsActive() bool {
	return t.Status == TraderStatusActive
}
