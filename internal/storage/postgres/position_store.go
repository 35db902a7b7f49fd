package postgres

import (
	"context"
	"fmt"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, trader_id, market_id, token_id, outcome,
	shares, avg_entry_price, total_cost, realized_pnl,
	status, opened_at, closed_at, updated_at
`

// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.PositionRecord) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TraderID, p.MarketID, p.TokenID, p.Outcome,
		p.Shares, p.AvgEntryPrice, p.TotalCost, p.RealizedPnL,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update replaces a position's mutable fields. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.PositionRecord) error {
	query := `
		UPDATE positions SET
			shares = $2, avg_entry_price = $3, total_cost = $4, realized_pnl = $5,
			status = $6, closed_at = $7, updated_at = $8
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Shares, p.AvgEntryPrice, p.TotalCost, p.RealizedPnL,
		string(p.Status), p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.PositionRecord, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`
	row := s.pool.QueryRow(ctx, query, positionID)

	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetOpen retrieves the OPEN position for (trader, market, token).
func (s *PositionStore) GetOpen(ctx context.Context, traderID, marketID, tokenID string) (*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE trader_id = $1 AND market_id = $2 AND token_id = $3 AND status = $4
	`
	row := s.pool.QueryRow(ctx, query, traderID, marketID, tokenID, string(domain.PositionStatusOpen))

	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position: %w", err)
	}
	return p, nil
}

// ListOpenByTrader retrieves all OPEN positions for a trader, ordered by open time ASC.
func (s *PositionStore) ListOpenByTrader(ctx context.Context, traderID string) ([]*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE trader_id = $1 AND status = $2
		ORDER BY opened_at ASC
	`
	return s.scanMany(ctx, query, traderID, string(domain.PositionStatusOpen))
}

// ListByTrader retrieves all positions for a trader regardless of status,
// ordered by open time ASC.
func (s *PositionStore) ListByTrader(ctx context.Context, traderID string) ([]*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE trader_id = $1
		ORDER BY opened_at ASC
	`
	return s.scanMany(ctx, query, traderID)
}

// ListOpen retrieves all OPEN positions, ordered by open time ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.PositionRecord, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY opened_at ASC
	`
	return s.scanMany(ctx, query, string(domain.PositionStatusOpen))
}

// CountOpenByTrader counts OPEN positions for a trader.
func (s *PositionStore) CountOpenByTrader(ctx context.Context, traderID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE trader_id = $1 AND status = $2`,
		traderID, string(domain.PositionStatusOpen)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return count, nil
}

func scanPosition(row rowScanner) (*domain.PositionRecord, error) {
	var p domain.PositionRecord
	var status string
	err := row.Scan(
		&p.ID, &p.TraderID, &p.MarketID, &p.TokenID, &p.Outcome,
		&p.Shares, &p.AvgEntryPrice, &p.TotalCost, &p.RealizedPnL,
		&status, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	return &p, nil
}

func (s *PositionStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
