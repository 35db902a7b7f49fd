package clickhouse

import (
	"context"
	"fmt"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TraderStatsStore implements storage.TraderStatsStore using ClickHouse.
// Snapshots are append-only; every stats recompute writes a new row and
// GetLatest picks the newest one per trader.
type TraderStatsStore struct {
	conn *Conn
}

// NewTraderStatsStore creates a new TraderStatsStore.
func NewTraderStatsStore(conn *Conn) *TraderStatsStore {
	return &TraderStatsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TraderStatsStore = (*TraderStatsStore)(nil)

// Insert appends a stats snapshot.
func (s *TraderStatsStore) Insert(ctx context.Context, st *domain.TraderStats) error {
	query := `
		INSERT INTO trader_stats (
			trader_id, total_trades, wins, losses, win_rate,
			total_volume, realized_pnl, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		st.TraderID, uint32(st.TotalTrades), uint32(st.Wins), uint32(st.Losses), st.WinRate,
		st.TotalVolume, st.RealizedPnL, st.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trader stats: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent snapshot for a trader.
func (s *TraderStatsStore) GetLatest(ctx context.Context, traderID string) (*domain.TraderStats, error) {
	query := `
		SELECT
			trader_id, total_trades, wins, losses, win_rate,
			total_volume, realized_pnl, computed_at
		FROM trader_stats
		WHERE trader_id = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`

	row := s.conn.QueryRow(ctx, query, traderID)

	var st domain.TraderStats
	var totalTrades, wins, losses uint32
	err := row.Scan(
		&st.TraderID, &totalTrades, &wins, &losses, &st.WinRate,
		&st.TotalVolume, &st.RealizedPnL, &st.ComputedAt,
	)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	st.TotalTrades = int(totalTrades)
	st.Wins = int(wins)
	st.Losses = int(losses)

	return &st, nil
}

// History retrieves up to limit snapshots for a trader, newest first.
func (s *TraderStatsStore) History(ctx context.Context, traderID string, limit int) ([]*domain.TraderStats, error) {
	query := `
		SELECT
			trader_id, total_trades, wins, losses, win_rate,
			total_volume, realized_pnl, computed_at
		FROM trader_stats
		WHERE trader_id = ?
		ORDER BY computed_at DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, traderID, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query stats history: %w", err)
	}
	defer rows.Close()

	var out []*domain.TraderStats
	for rows.Next() {
		var st domain.TraderStats
		var totalTrades, wins, losses uint32
		err := rows.Scan(
			&st.TraderID, &totalTrades, &wins, &losses, &st.WinRate,
			&st.TotalVolume, &st.RealizedPnL, &st.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		st.TotalTrades = int(totalTrades)
		st.Wins = int(wins)
		st.Losses = int(losses)
		out = append(out, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}

	return out, nil
}
