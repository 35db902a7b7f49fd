package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/storage"
)

func TestPositionStore_GetOpen(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	open := &domain.PositionRecord{
		ID: "p1", TraderID: "trader1", MarketID: "m1", TokenID: "tok1",
		Shares: 100, AvgEntryPrice: 0.4, Status: domain.PositionStatusOpen,
		OpenedAt: time.Now(),
	}
	closed := &domain.PositionRecord{
		ID: "p2", TraderID: "trader1", MarketID: "m2", TokenID: "tok2",
		Status: domain.PositionStatusClosed, OpenedAt: time.Now(),
	}

	for _, p := range []*domain.PositionRecord{open, closed} {
		if err := store.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s failed: %v", p.ID, err)
		}
	}

	got, err := store.GetOpen(ctx, "trader1", "m1", "tok1")
	if err != nil {
		t.Fatalf("GetOpen failed: %v", err)
	}
	if got.Shares != 100 {
		t.Errorf("Shares mismatch: got %f, want 100", got.Shares)
	}

	// Closed positions are not returned.
	_, err = store.GetOpen(ctx, "trader1", "m2", "tok2")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for closed position, got %v", err)
	}
}

func TestPositionStore_CountOpenByTrader(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	for _, p := range []*domain.PositionRecord{
		{ID: "p1", TraderID: "trader1", Status: domain.PositionStatusOpen},
		{ID: "p2", TraderID: "trader1", Status: domain.PositionStatusOpen},
		{ID: "p3", TraderID: "trader1", Status: domain.PositionStatusClosed},
		{ID: "p4", TraderID: "trader2", Status: domain.PositionStatusOpen},
	} {
		if err := store.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s failed: %v", p.ID, err)
		}
	}

	count, err := store.CountOpenByTrader(ctx, "trader1")
	if err != nil {
		t.Fatalf("CountOpenByTrader failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 open positions, got %d", count)
	}
}

func TestPositionStore_ListOpenOrdering(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	base := time.Now()
	for _, p := range []*domain.PositionRecord{
		{ID: "p2", TraderID: "t", Status: domain.PositionStatusOpen, OpenedAt: base.Add(time.Minute)},
		{ID: "p1", TraderID: "t", Status: domain.PositionStatusOpen, OpenedAt: base},
	} {
		if err := store.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s failed: %v", p.ID, err)
		}
	}

	result, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(result) != 2 || result[0].ID != "p1" {
		t.Errorf("Expected [p1 p2] ordering, got %v", []string{result[0].ID, result[1].ID})
	}
}
