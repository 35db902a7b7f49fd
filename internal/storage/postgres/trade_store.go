package postgres

import (
	"context"
	"fmt"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, trader_id, market_id, token_id, outcome,
	side, order_type, limit_price,
	requested_amount, executed_amount, shares, fill_price, slippage_pct,
	status, failure_reason, retry_count, next_retry_at,
	created_at, executed_at
`

// Insert adds a new trade record. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.TraderID, t.MarketID, t.TokenID, t.Outcome,
		string(t.Side), string(t.OrderType), t.LimitPrice,
		t.RequestedAmount, t.ExecutedAmount, t.Shares, t.FillPrice, t.SlippagePct,
		string(t.Status), t.FailureReason, t.RetryCount, t.NextRetryAt,
		t.CreatedAt, t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Update replaces a trade record's mutable fields. Returns ErrNotFound if not exists.
func (s *TradeStore) Update(ctx context.Context, t *domain.TradeRecord) error {
	query := `
		UPDATE trades SET
			executed_amount = $2, shares = $3, fill_price = $4, slippage_pct = $5,
			status = $6, failure_reason = $7, retry_count = $8, next_retry_at = $9,
			executed_at = $10
		WHERE trade_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		t.ID,
		t.ExecutedAmount, t.Shares, t.FillPrice, t.SlippagePct,
		string(t.Status), t.FailureReason, t.RetryCount, t.NextRetryAt,
		t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a trade by ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1`
	row := s.pool.QueryRow(ctx, query, tradeID)

	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// GetByTraderSince retrieves a trader's trades created at or after since,
// ordered by creation time ASC.
func (s *TradeStore) GetByTraderSince(ctx context.Context, traderID string, since time.Time) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE trader_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	return s.scanMany(ctx, query, traderID, since)
}

// GetByStatus retrieves all trades in the given status, ordered by creation time ASC.
func (s *TradeStore) GetByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 ORDER BY created_at ASC`
	return s.scanMany(ctx, query, string(status))
}

// CountByStatus counts trades in the given status.
func (s *TradeStore) CountByStatus(ctx context.Context, status domain.TradeStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// GetRetryable retrieves FAILED trades with RetryCount below maxRetries,
// ordered by creation time ASC.
func (s *TradeStore) GetRetryable(ctx context.Context, maxRetries int) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = $1 AND retry_count < $2
		ORDER BY created_at ASC
	`
	return s.scanMany(ctx, query, string(domain.TradeStatusFailed), maxRetries)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side, orderType, status string
	err := row.Scan(
		&t.ID, &t.TraderID, &t.MarketID, &t.TokenID, &t.Outcome,
		&side, &orderType, &t.LimitPrice,
		&t.RequestedAmount, &t.ExecutedAmount, &t.Shares, &t.FillPrice, &t.SlippagePct,
		&status, &t.FailureReason, &t.RetryCount, &t.NextRetryAt,
		&t.CreatedAt, &t.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	return &t, nil
}

func (s *TradeStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
