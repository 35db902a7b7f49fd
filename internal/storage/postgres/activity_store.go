package postgres

import (
	"context"
	"fmt"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// ActivityStore implements storage.ActivityStore using PostgreSQL.
// The activity_log table is append-only.
type ActivityStore struct {
	pool *Pool
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(pool *Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// Append adds an audit entry.
func (s *ActivityStore) Append(ctx context.Context, e *domain.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (entry_id, entry_type, trader_id, trade_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Type, e.TraderID, e.TradeID, e.Message, e.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append activity entry: %w", err)
	}
	return nil
}

// ListRecent retrieves the most recent entries, newest first.
func (s *ActivityStore) ListRecent(ctx context.Context, limit int) ([]*domain.ActivityEntry, error) {
	query := `
		SELECT entry_id, entry_type, trader_id, trade_id, message, created_at
		FROM activity_log
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var result []*domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.TraderID, &e.TradeID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
