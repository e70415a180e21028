package memory

import (
	"context"
	"errors"
	"testing"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func revenueEvent(eventID, orderID string, fee, pool int64) *domain.RevenueEvent {
	return &domain.RevenueEvent{
		EventID:     eventID,
		OrderID:     orderID,
		AgentID:     "agent1",
		Profit:      fee + pool,
		PlatformFee: fee,
		HolderPool:  pool,
	}
}

func TestRevenueStore_ApplyEventOncePerOrder(t *testing.T) {
	store := NewRevenueStore()
	ctx := context.Background()

	acc, err := store.ApplyEvent(ctx, revenueEvent("e1", "o1", 10, 990))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if acc != 990 {
		t.Errorf("Accumulator = %d, want 990", acc)
	}

	// A second event for the same order must be rejected even with a
	// different event ID, and must move nothing.
	if _, err := store.ApplyEvent(ctx, revenueEvent("e2", "o1", 10, 990)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for same order, got %v", err)
	}

	pool, _ := store.Pool(ctx, "agent1")
	if pool.Accumulator != 990 {
		t.Errorf("Accumulator = %d after duplicate, want 990", pool.Accumulator)
	}
	treasury, _ := store.Treasury(ctx)
	if treasury != 10 {
		t.Errorf("Treasury = %d after duplicate, want 10", treasury)
	}
}

func TestRevenueStore_ApplyEventAccumulates(t *testing.T) {
	store := NewRevenueStore()
	ctx := context.Background()

	if _, err := store.ApplyEvent(ctx, revenueEvent("e1", "o1", 10, 990)); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	acc, err := store.ApplyEvent(ctx, revenueEvent("e2", "o2", 5, 10))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if acc != 1000 {
		t.Errorf("Accumulator = %d, want 1000", acc)
	}

	if err := store.AddClaimed(ctx, "agent1", 400); err != nil {
		t.Fatalf("AddClaimed failed: %v", err)
	}

	pool, err := store.Pool(ctx, "agent1")
	if err != nil {
		t.Fatalf("Pool failed: %v", err)
	}
	if pool.Accumulator != 1000 || pool.TotalClaimed != 400 {
		t.Errorf("Pool = %+v", pool)
	}
	if pool.Unclaimed() != 600 {
		t.Errorf("Unclaimed = %d, want 600", pool.Unclaimed())
	}

	treasury, _ := store.Treasury(ctx)
	if treasury != 15 {
		t.Errorf("Treasury = %d, want 15", treasury)
	}
}

func TestRevenueStore_MissingPoolIsZero(t *testing.T) {
	store := NewRevenueStore()

	pool, err := store.Pool(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Pool failed: %v", err)
	}
	if pool.Accumulator != 0 || pool.TotalClaimed != 0 || pool.Frozen {
		t.Errorf("Expected zero pool, got %+v", pool)
	}
}

func TestRevenueStore_Freeze(t *testing.T) {
	store := NewRevenueStore()
	ctx := context.Background()

	if err := store.SetFrozen(ctx, "agent1", true); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}

	pool, _ := store.Pool(ctx, "agent1")
	if !pool.Frozen {
		t.Error("pool not frozen")
	}
}

func TestRevenueStore_EventsByAgentNewestFirst(t *testing.T) {
	store := NewRevenueStore()
	ctx := context.Background()

	events := []*domain.RevenueEvent{
		{EventID: "e1", OrderID: "o1", AgentID: "agent1", CreatedAt: 100},
		{EventID: "e2", OrderID: "o2", AgentID: "agent1", CreatedAt: 300},
		{EventID: "e3", OrderID: "o3", AgentID: "agent1", CreatedAt: 200},
		{EventID: "e4", OrderID: "o4", AgentID: "other", CreatedAt: 400},
	}
	for _, e := range events {
		if _, err := store.ApplyEvent(ctx, e); err != nil {
			t.Fatalf("ApplyEvent %s failed: %v", e.EventID, err)
		}
	}

	got, err := store.EventsByAgent(ctx, "agent1")
	if err != nil {
		t.Fatalf("EventsByAgent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[0].EventID != "e2" || got[1].EventID != "e3" || got[2].EventID != "e1" {
		t.Errorf("Unexpected order: %s, %s, %s", got[0].EventID, got[1].EventID, got[2].EventID)
	}
}
