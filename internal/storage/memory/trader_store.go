package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TraderStore is an in-memory implementation of storage.TraderStore.
type TraderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TraderProfile // keyed by trader ID
}

// NewTraderStore creates a new in-memory trader store.
func NewTraderStore() *TraderStore {
	return &TraderStore{
		data: make(map[string]*domain.TraderProfile),
	}
}

var _ storage.TraderStore = (*TraderStore)(nil)

// Insert adds a new trader. Returns ErrDuplicateKey if the ID exists.
func (s *TraderStore) Insert(_ context.Context, t *domain.TraderProfile) error {
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

// GetByID retrieves a trader by ID. Returns ErrNotFound if not exists.
func (s *TraderStore) GetByID(_ context.Context, traderID string) (*domain.TraderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[traderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

// GetByWallet retrieves a trader by wallet address. Returns ErrNotFound if not exists.
func (s *TraderStore) GetByWallet(_ context.Context, wallet string) (*domain.TraderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data {
		if t.WalletAddress == wallet {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all traders ordered by ID.
func (s *TraderStore) List(_ context.Context) ([]*domain.TraderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TraderProfile
	for _, t := range s.data {
		cp := *t
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListByStatus retrieves all traders with the given status, ordered by ID.
func (s *TraderStore) ListByStatus(_ context.Context, status domain.TraderStatus) ([]*domain.TraderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TraderProfile
	for _, t := range s.data {
		if t.Status == status {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateStatus transitions a trader's lifecycle status.
func (s *TraderStore) UpdateStatus(_ context.Context, traderID string, status domain.TraderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[traderID]
	if !exists {
		return storage.ErrNotFound
	}

	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

// UpdatePeakBalance stores a new equity high-water mark.
func (s *TraderStore) UpdatePeakBalance(_ context.Context, traderID string, peak float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[traderID]
	if !exists {
		return storage.ErrNotFound
	}

	t.PeakBalance = peak
	t.UpdatedAt = time.Now()
	return nil
}

// UpdateOverrides replaces a trader's risk overrides.
func (s *TraderStore) UpdateOverrides(_ context.Context, traderID string, o domain.RiskOverrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[traderID]
	if !exists {
		return storage.ErrNotFound
	}

	t.Overrides = o
	t.UpdatedAt = time.Now()
	return nil
}

// Delete removes a trader. Returns ErrNotFound if not exists.
func (s *TraderStore) Delete(_ context.Context, traderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[traderID]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, traderID)
	return nil
}
