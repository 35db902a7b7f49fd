package reporting

import (
	"context"
	"fmt"
	"log"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// Generator assembles performance reports from the storage layer.
type Generator struct {
	traders   storage.TraderStore
	trades    storage.TradeStore
	positions storage.PositionStore
	logger    *log.Logger
	clock     func() time.Time
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Traders   storage.TraderStore
	Trades    storage.TradeStore
	Positions storage.PositionStore
	Logger    *log.Logger
	Clock     func() time.Time // nil uses time.Now
}

// NewGenerator creates a report generator.
func NewGenerator(opts GeneratorOptions) *Generator {
	g := &Generator{
		traders:   opts.Traders,
		trades:    opts.Trades,
		positions: opts.Positions,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g
}

// Build assembles a full performance report.
func (g *Generator) Build(ctx context.Context) (*Report, error) {
	traders, err := g.traders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list traders: %w", err)
	}

	report := &Report{
		GeneratedAt: g.clock().UTC(),
		Traders:     make([]TraderRow, 0, len(traders)),
	}
	report.Summary.TotalTraders = len(traders)

	for _, trader := range traders {
		switch trader.Status {
		case domain.TraderStatusActive:
			report.Summary.ActiveTraders++
		case domain.TraderStatusPaused:
			report.Summary.PausedTraders++
		}

		row, err := g.buildRow(ctx, trader)
		if err != nil {
			return nil, fmt.Errorf("trader %s: %w", trader.ID, err)
		}
		report.Traders = append(report.Traders, *row)

		report.Summary.TotalVolume += row.TotalVolume
		report.Summary.RealizedPnL += row.RealizedPnL
		report.Summary.OpenPositions += row.OpenPositions
		report.Summary.OpenValue += row.OpenValue
	}

	for status, target := range map[domain.TradeStatus]*int{
		domain.TradeStatusExecuted:          &report.Summary.ExecutedTrades,
		domain.TradeStatusFailed:            &report.Summary.FailedTrades,
		domain.TradeStatusCancelled:         &report.Summary.CancelledTrades,
		domain.TradeStatusPermanentlyFailed: &report.Summary.PermanentFailures,
	} {
		n, err := g.trades.CountByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("count %s trades: %w", status, err)
		}
		*target = n
		report.Summary.TotalTrades += n
	}

	return report, nil
}

// buildRow derives one trader's performance from its trade and position
// history.
func (g *Generator) buildRow(ctx context.Context, trader *domain.TraderProfile) (*TraderRow, error) {
	row := &TraderRow{
		TraderID:      trader.ID,
		Name:          trader.Name,
		WalletAddress: trader.WalletAddress,
		Status:        string(trader.Status),
		PeakBalance:   trader.PeakBalance,
	}

	trades, err := g.trades.GetByTraderSince(ctx, trader.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	for _, t := range trades {
		if t.Status == domain.TradeStatusExecuted || t.Status == domain.TradeStatusPartiallyFilled {
			row.TotalTrades++
			row.TotalVolume += t.ExecutedAmount
		}
	}

	positions, err := g.positions.ListByTrader(ctx, trader.ID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		row.RealizedPnL += p.RealizedPnL
		if p.Status == domain.PositionStatusOpen {
			row.OpenPositions++
			row.OpenValue += p.Value()
			continue
		}
		switch {
		case p.RealizedPnL > 0:
			row.Wins++
		case p.RealizedPnL < 0:
			row.Losses++
		}
	}
	if settled := row.Wins + row.Losses; settled > 0 {
		row.WinRate = float64(row.Wins) / float64(settled)
	}
	return row, nil
}
