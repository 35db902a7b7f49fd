package memory

import (
	"context"
	"sort"
	"sync"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PositionRecord // keyed by position ID
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.PositionRecord),
	}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.PositionRecord) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *p
	s.data[p.ID] = &cp
	return nil
}

// Update replaces a position's mutable fields. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(_ context.Context, p *domain.PositionRecord) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; !exists {
		return storage.ErrNotFound
	}

	cp := *p
	s.data[p.ID] = &cp
	return nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *p
	return &cp, nil
}

// GetOpen retrieves the OPEN position for (trader, market, token).
func (s *PositionStore) GetOpen(_ context.Context, traderID, marketID, tokenID string) (*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.data {
		if p.Status == domain.PositionStatusOpen &&
			p.TraderID == traderID && p.MarketID == marketID && p.TokenID == tokenID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListOpenByTrader retrieves all OPEN positions for a trader, ordered by open time ASC.
func (s *PositionStore) ListOpenByTrader(_ context.Context, traderID string) ([]*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionRecord
	for _, p := range s.data {
		if p.Status == domain.PositionStatusOpen && p.TraderID == traderID {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// ListByTrader retrieves all positions for a trader regardless of status,
// ordered by open time ASC.
func (s *PositionStore) ListByTrader(_ context.Context, traderID string) ([]*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionRecord
	for _, p := range s.data {
		if p.TraderID == traderID {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// ListOpen retrieves all OPEN positions, ordered by open time ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionRecord
	for _, p := range s.data {
		if p.Status == domain.PositionStatusOpen {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// CountOpenByTrader counts OPEN positions for a trader.
func (s *PositionStore) CountOpenByTrader(_ context.Context, traderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.data {
		if p.Status == domain.PositionStatusOpen && p.TraderID == traderID {
			count++
		}
	}
	return count, nil
}
