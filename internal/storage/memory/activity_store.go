package memory

import (
	"context"
	"sync"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
// Entries are append-only; the newest entry sits at the end of the slice.
type ActivityStore struct {
	mu      sync.RWMutex
	entries []*domain.ActivityEntry
}

// NewActivityStore creates a new in-memory activity log.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

var _ storage.ActivityStore = (*ActivityStore)(nil)

// Append adds an audit entry.
func (s *ActivityStore) Append(_ context.Context, e *domain.ActivityEntry) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

// ListRecent retrieves the most recent entries, newest first.
func (s *ActivityStore) ListRecent(_ context.Context, limit int) ([]*domain.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	result := make([]*domain.ActivityEntry, 0, limit)
	for i := len(s.entries) - 1; i >= len(s.entries)-limit; i-- {
		cp := *s.entries[i]
		result = append(result, &cp)
	}
	return result, nil
}
