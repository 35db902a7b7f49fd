// Package reporting builds operator-facing performance reports from the
// trade ledger and position history.
package reporting

import "time"

// Report is one generated performance snapshot.
type Report struct {
	GeneratedAt time.Time
	Summary     Summary
	Traders     []TraderRow
}

// Summary aggregates the whole account.
type Summary struct {
	TotalTraders      int
	ActiveTraders     int
	PausedTraders     int
	TotalTrades       int
	ExecutedTrades    int
	FailedTrades      int
	CancelledTrades   int
	PermanentFailures int
	TotalVolume       float64
	RealizedPnL       float64
	OpenPositions     int
	OpenValue         float64
}

// TraderRow is the per-trader performance breakdown.
type TraderRow struct {
	TraderID      string
	Name          string
	WalletAddress string
	Status        string
	TotalTrades   int
	TotalVolume   float64
	Wins          int
	Losses        int
	WinRate       float64
	RealizedPnL   float64
	OpenPositions int
	OpenValue     float64
	PeakBalance   float64
}
