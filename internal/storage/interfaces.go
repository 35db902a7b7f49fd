package storage

import (
	"context"
	"time"

	"polymarket-copytrader/internal/domain"
)

// TraderStore provides access to trader profile storage.
type TraderStore interface {
	// Insert adds a new trader. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, t *domain.TraderProfile) error

	// GetByID retrieves a trader by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, traderID string) (*domain.TraderProfile, error)

	// GetByWallet retrieves a trader by wallet address. Returns ErrNotFound if not exists.
	GetByWallet(ctx context.Context, wallet string) (*domain.TraderProfile, error)

	// List retrieves all traders.
	List(ctx context.Context) ([]*domain.TraderProfile, error)

	// ListByStatus retrieves all traders with the given lifecycle status.
	ListByStatus(ctx context.Context, status domain.TraderStatus) ([]*domain.TraderProfile, error)

	// UpdateStatus transitions a trader's lifecycle status.
	UpdateStatus(ctx context.Context, traderID string, status domain.TraderStatus) error

	// UpdatePeakBalance stores a new equity high-water mark.
	UpdatePeakBalance(ctx context.Context, traderID string, peak float64) error

	// UpdateOverrides replaces a trader's risk overrides.
	UpdateOverrides(ctx context.Context, traderID string, o domain.RiskOverrides) error

	// Delete removes a trader. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, traderID string) error
}

// TradeStore provides access to trade record storage. Trade records are
// created once and then updated exactly once per execution attempt outcome.
type TradeStore interface {
	// Insert adds a new trade record. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// Update replaces a trade record's mutable fields. Returns ErrNotFound if not exists.
	Update(ctx context.Context, t *domain.TradeRecord) error

	// GetByID retrieves a trade by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetByTraderSince retrieves a trader's trades created at or after since,
	// ordered by creation time ASC.
	GetByTraderSince(ctx context.Context, traderID string, since time.Time) ([]*domain.TradeRecord, error)

	// GetByStatus retrieves all trades in the given status.
	GetByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.TradeRecord, error)

	// CountByStatus counts trades in the given status.
	CountByStatus(ctx context.Context, status domain.TradeStatus) (int, error)

	// GetRetryable retrieves FAILED trades with RetryCount below maxRetries.
	GetRetryable(ctx context.Context, maxRetries int) ([]*domain.TradeRecord, error)
}

// PositionStore provides access to the operator's position ledger.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, p *domain.PositionRecord) error

	// Update replaces a position's mutable fields. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.PositionRecord) error

	// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.PositionRecord, error)

	// GetOpen retrieves the OPEN position for (trader, market, token).
	// Returns ErrNotFound if no open position exists.
	GetOpen(ctx context.Context, traderID, marketID, tokenID string) (*domain.PositionRecord, error)

	// ListOpenByTrader retrieves all OPEN positions for a trader.
	ListOpenByTrader(ctx context.Context, traderID string) ([]*domain.PositionRecord, error)

	// ListByTrader retrieves all positions for a trader regardless of status.
	ListByTrader(ctx context.Context, traderID string) ([]*domain.PositionRecord, error)

	// ListOpen retrieves all OPEN positions.
	ListOpen(ctx context.Context) ([]*domain.PositionRecord, error)

	// CountOpenByTrader counts OPEN positions for a trader.
	CountOpenByTrader(ctx context.Context, traderID string) (int, error)
}

// ActivityStore is the append-only audit log.
type ActivityStore interface {
	// Append adds an audit entry. Entries are never updated or deleted.
	Append(ctx context.Context, e *domain.ActivityEntry) error

	// ListRecent retrieves the most recent entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.ActivityEntry, error)
}

// TraderStatsStore archives recomputed trader performance summaries.
type TraderStatsStore interface {
	// Insert appends a stats snapshot.
	Insert(ctx context.Context, s *domain.TraderStats) error

	// GetLatest retrieves the most recent snapshot for a trader.
	// Returns ErrNotFound if none exists.
	GetLatest(ctx context.Context, traderID string) (*domain.TraderStats, error)
}
