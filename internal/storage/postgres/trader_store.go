package postgres

import (
	"context"
	"fmt"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TraderStore implements storage.TraderStore using PostgreSQL.
type TraderStore struct {
	pool *Pool
}

// NewTraderStore creates a new TraderStore.
func NewTraderStore(pool *Pool) *TraderStore {
	return &TraderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TraderStore = (*TraderStore)(nil)

const traderColumns = `
	trader_id, name, wallet_address, status, peak_balance,
	allocation_percent, max_position_size, min_trade_amount, slippage_tolerance,
	max_drawdown_percent, stop_loss_percent, take_profit_percent, trailing_stop_percent,
	created_at, updated_at
`

// Insert adds a new trader. Returns ErrDuplicateKey if the ID exists.
func (s *TraderStore) Insert(ctx context.Context, t *domain.TraderProfile) error {
	query := `
		INSERT INTO traders (` + traderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	o := t.Overrides
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Name, t.WalletAddress, string(t.Status), t.PeakBalance,
		o.AllocationPercent, o.MaxPositionSize, o.MinTradeAmount, o.SlippageTolerance,
		o.MaxDrawdownPercent, o.StopLossPercent, o.TakeProfitPercent, o.TrailingStopPercent,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trader: %w", err)
	}
	return nil
}

// GetByID retrieves a trader by ID. Returns ErrNotFound if not exists.
func (s *TraderStore) GetByID(ctx context.Context, traderID string) (*domain.TraderProfile, error) {
	query := `SELECT ` + traderColumns + ` FROM traders WHERE trader_id = $1`
	return s.scanOne(ctx, query, traderID)
}

// GetByWallet retrieves a trader by wallet address. Returns ErrNotFound if not exists.
func (s *TraderStore) GetByWallet(ctx context.Context, wallet string) (*domain.TraderProfile, error) {
	query := `SELECT ` + traderColumns + ` FROM traders WHERE wallet_address = $1`
	return s.scanOne(ctx, query, wallet)
}

// List retrieves all traders ordered by ID.
func (s *TraderStore) List(ctx context.Context) ([]*domain.TraderProfile, error) {
	query := `SELECT ` + traderColumns + ` FROM traders ORDER BY trader_id`
	return s.scanMany(ctx, query)
}

// ListByStatus retrieves all traders with the given status, ordered by ID.
func (s *TraderStore) ListByStatus(ctx context.Context, status domain.TraderStatus) ([]*domain.TraderProfile, error) {
	query := `SELECT ` + traderColumns + ` FROM traders WHERE status = $1 ORDER BY trader_id`
	return s.scanMany(ctx, query, string(status))
}

// UpdateStatus transitions a trader's lifecycle status.
func (s *TraderStore) UpdateStatus(ctx context.Context, traderID string, status domain.TraderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE traders SET status = $2, updated_at = $3 WHERE trader_id = $1`,
		traderID, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("update trader status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdatePeakBalance stores a new equity high-water mark.
func (s *TraderStore) UpdatePeakBalance(ctx context.Context, traderID string, peak float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE traders SET peak_balance = $2, updated_at = $3 WHERE trader_id = $1`,
		traderID, peak, time.Now())
	if err != nil {
		return fmt.Errorf("update peak balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateOverrides replaces a trader's risk overrides.
func (s *TraderStore) UpdateOverrides(ctx context.Context, traderID string, o domain.RiskOverrides) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE traders SET
			allocation_percent = $2, max_position_size = $3, min_trade_amount = $4,
			slippage_tolerance = $5, max_drawdown_percent = $6, stop_loss_percent = $7,
			take_profit_percent = $8, trailing_stop_percent = $9, updated_at = $10
		WHERE trader_id = $1`,
		traderID,
		o.AllocationPercent, o.MaxPositionSize, o.MinTradeAmount,
		o.SlippageTolerance, o.MaxDrawdownPercent, o.StopLossPercent,
		o.TakeProfitPercent, o.TrailingStopPercent, time.Now())
	if err != nil {
		return fmt.Errorf("update trader overrides: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a trader. Returns ErrNotFound if not exists.
func (s *TraderStore) Delete(ctx context.Context, traderID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM traders WHERE trader_id = $1`, traderID)
	if err != nil {
		return fmt.Errorf("delete trader: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *TraderStore) scanOne(ctx context.Context, query string, args ...any) (*domain.TraderProfile, error) {
	row := s.pool.QueryRow(ctx, query, args...)

	var t domain.TraderProfile
	var status string
	err := row.Scan(
		&t.ID, &t.Name, &t.WalletAddress, &status, &t.PeakBalance,
		&t.Overrides.AllocationPercent, &t.Overrides.MaxPositionSize, &t.Overrides.MinTradeAmount,
		&t.Overrides.SlippageTolerance, &t.Overrides.MaxDrawdownPercent, &t.Overrides.StopLossPercent,
		&t.Overrides.TakeProfitPercent, &t.Overrides.TrailingStopPercent,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan trader: %w", err)
	}
	t.Status = domain.TraderStatus(status)
	return &t, nil
}

func (s *TraderStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.TraderProfile, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traders: %w", err)
	}
	defer rows.Close()

	var result []*domain.TraderProfile
	for rows.Next() {
		var t domain.TraderProfile
		var status string
		err := rows.Scan(
			&t.ID, &t.Name, &t.WalletAddress, &status, &t.PeakBalance,
			&t.Overrides.AllocationPercent, &t.Overrides.MaxPositionSize, &t.Overrides.MinTradeAmount,
			&t.Overrides.SlippageTolerance, &t.Overrides.MaxDrawdownPercent, &t.Overrides.StopLossPercent,
			&t.Overrides.TakeProfitPercent, &t.Overrides.TrailingStopPercent,
			&t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trader row: %w", err)
		}
		t.Status = domain.TraderStatus(status)
		result = append(result, &t)
	}
	return result, rows.Err()
}
