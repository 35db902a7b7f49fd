package domain

import "time"

// PositionStatus is the lifecycle state of a local position ledger entry.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// PositionRecord is the persistent ledger of the operator's own holdings,
// keyed by (trader, market, token). Shares never goes negative; the record
// transitions to CLOSED exactly when a SELL fill brings shares to zero.
type PositionRecord struct {
	ID            string
	TraderID      string // source trader whose copy opened this position
	MarketID      string
	TokenID       string
	Outcome       string
	Shares        float64
	AvgEntryPrice float64 // weighted average across BUY fills
	TotalCost     float64
	RealizedPnL   float64
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// Value returns the position's value at its average entry price.
func (p *PositionRecord) Value() float64 {
	return p.Shares * p.AvgEntryPrice
}

// PositionSnapshot is one observed holding of a source account, as returned
// by the market-data provider. Snapshots are owned by the position monitor
// and replaced wholesale on every poll cycle.
type PositionSnapshot struct {
	MarketID string
	TokenID  string
	Outcome  string
	Shares   float64
	AvgPrice float64
}

// SnapshotKey identifies a snapshot within a trader's holdings.
type SnapshotKey struct {
	MarketID string
	TokenID  string
}

// Key returns the (market, token) map key for this snapshot.
func (s *PositionSnapshot) Key() SnapshotKey {
	return SnapshotKey{MarketID: s.MarketID, TokenID: s.TokenID}
}

// ChangeKind classifies a detected holding delta.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "NEW"
	ChangeIncreased ChangeKind = "INCREASED"
	ChangeDecreased ChangeKind = "DECREASED"
	ChangeClosed    ChangeKind = "CLOSED"
)

// PositionChangeEvent describes one holding delta observed on a source
// account. Events are immutable and consumed once by the copy orchestrator.
type PositionChangeEvent struct {
	TraderID       string
	WalletAddress  string
	MarketID       string
	TokenID        string
	Outcome        string
	Kind           ChangeKind
	PreviousShares float64
	CurrentShares  float64
	Delta          float64 // currentShares - previousShares
	Price          float64 // source's average price at observation
	Timestamp      time.Time
}
