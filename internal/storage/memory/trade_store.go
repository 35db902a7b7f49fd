package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by trade ID
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade record. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *t
	s.data[t.ID] = &cp
	return nil
}

// Update replaces a trade record's mutable fields. Returns ErrNotFound if not exists.
func (s *TradeStore) Update(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; !exists {
		return storage.ErrNotFound
	}

	cp := *t
	s.data[t.ID] = &cp
	return nil
}

// GetByID retrieves a trade by ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, tradeID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

// GetByTraderSince retrieves a trader's trades created at or after since,
// ordered by creation time ASC.
func (s *TradeStore) GetByTraderSince(_ context.Context, traderID string, since time.Time) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.TraderID == traderID && !t.CreatedAt.Before(since) {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// GetByStatus retrieves all trades in the given status, ordered by creation time ASC.
func (s *TradeStore) GetByStatus(_ context.Context, status domain.TradeStatus) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.Status == status {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CountByStatus counts trades in the given status.
func (s *TradeStore) CountByStatus(_ context.Context, status domain.TradeStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.data {
		if t.Status == status {
			count++
		}
	}
	return count, nil
}

// GetRetryable retrieves FAILED trades with RetryCount below maxRetries,
// ordered by creation time ASC.
func (s *TradeStore) GetRetryable(_ context.Context, maxRetries int) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.Status == domain.TradeStatusFailed && t.RetryCount < maxRetries {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
