package memory

import (
	"context"
	"sync"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// TraderStatsStore is an in-memory implementation of storage.TraderStatsStore,
// used when running without ClickHouse.
type TraderStatsStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.TraderStats // keyed by trader ID, append order
}

// NewTraderStatsStore creates a new in-memory stats archive.
func NewTraderStatsStore() *TraderStatsStore {
	return &TraderStatsStore{
		data: make(map[string][]*domain.TraderStats),
	}
}

var _ storage.TraderStatsStore = (*TraderStatsStore)(nil)

// Insert appends a stats snapshot.
func (s *TraderStatsStore) Insert(_ context.Context, st *domain.TraderStats) error {
	if st == nil || st.TraderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.data[st.TraderID] = append(s.data[st.TraderID], &cp)
	return nil
}

// GetLatest retrieves the most recent snapshot for a trader.
func (s *TraderStatsStore) GetLatest(_ context.Context, traderID string) (*domain.TraderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := s.data[traderID]
	if len(snapshots) == 0 {
		return nil, storage.ErrNotFound
	}

	cp := *snapshots[len(snapshots)-1]
	return &cp, nil
}
