package domain

import "time"

// OrderSide is the direction of a copied trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TradeStatus is the state machine of a TradeRecord:
// PENDING -> EXECUTED | PARTIALLY_FILLED | FAILED | CANCELLED,
// FAILED -> PERMANENTLY_FAILED once retries are exhausted.
type TradeStatus string

const (
	TradeStatusPending           TradeStatus = "PENDING"
	TradeStatusExecuted          TradeStatus = "EXECUTED"
	TradeStatusPartiallyFilled   TradeStatus = "PARTIALLY_FILLED"
	TradeStatusFailed            TradeStatus = "FAILED"
	TradeStatusCancelled         TradeStatus = "CANCELLED"
	TradeStatusPermanentlyFailed TradeStatus = "PERMANENTLY_FAILED"
)

// MaxRetryAttempts is the cap on execution attempts for a failed trade.
const MaxRetryAttempts = 3

// TradeRecord is the persistent audit entity for every attempted copy trade.
// Rejected trades get a CANCELLED record so operators can always answer
// "what happened to trade X and why". RequestedAmount never exceeds the
// risk-gate-approved amount at creation time.
type TradeRecord struct {
	ID       string
	TraderID string
	MarketID string
	TokenID  string
	Outcome  string

	Side       OrderSide
	OrderType  OrderType
	LimitPrice *float64 // required for LIMIT; nil falls back to market behavior

	RequestedAmount float64 // USD notional approved by the risk gate
	ExecutedAmount  float64 // USD notional actually filled
	Shares          float64 // shares filled
	FillPrice       float64 // average fill price
	SlippagePct     float64 // realized |fill-expected|/expected * 100

	Status        TradeStatus
	FailureReason string
	RetryCount    int
	NextRetryAt   *time.Time // mirrored from the retry scheduler for crash recovery

	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// Retryable reports whether the trade may be handed to the retry scheduler.
func (t *TradeRecord) Retryable() bool {
	return t.Status == TradeStatusFailed && t.RetryCount < MaxRetryAttempts
}

// TraderStats is a recomputed performance summary for one source trader,
// derived from executed trade history and archived to the analytics store.
type TraderStats struct {
	TraderID    string
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64 // wins / (wins + losses), 0 when no closed trades
	TotalVolume float64 // sum of executed USD notionals
	RealizedPnL float64
	ComputedAt  time.Time
}

// ActivityEntry is one append-only audit log line.
type ActivityEntry struct {
	ID        string
	Type      string // e.g. "trade:executed", "retry:permanent_failure", "guard:sltp_trigger"
	TraderID  string
	TradeID   string
	Message   string
	CreatedAt time.Time
}
