package memory

import (
	"context"
	"testing"

	"agent-engine/internal/domain"
)

func TestAnalyticsStore_Leaderboard(t *testing.T) {
	store := NewAnalyticsStore()
	ctx := context.Background()

	trades := []*domain.RealizedTrade{
		{OrderID: "o1", AgentID: "a1", Profit: 500, PlatformFee: 5, ExecutedAt: 100},
		{OrderID: "o2", AgentID: "a1", Profit: -200, PlatformFee: 0, ExecutedAt: 200},
		{OrderID: "o3", AgentID: "a2", Profit: 900, PlatformFee: 9, ExecutedAt: 150},
		{OrderID: "o4", AgentID: "a3", Profit: 50, PlatformFee: 0, ExecutedAt: 9_999}, // outside window
	}
	for _, tr := range trades {
		if err := store.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("InsertTrade %s failed: %v", tr.OrderID, err)
		}
	}

	rows, err := store.Leaderboard(ctx, 0, 1000, 10)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	if rows[0].AgentID != "a2" || rows[0].TotalProfit != 900 || rows[0].Wins != 1 {
		t.Errorf("Row 0 = %+v", rows[0])
	}
	if rows[1].AgentID != "a1" || rows[1].TotalProfit != 300 || rows[1].Trades != 2 || rows[1].Wins != 1 {
		t.Errorf("Row 1 = %+v", rows[1])
	}
	if got := rows[1].WinRate(); got != 0.5 {
		t.Errorf("WinRate = %f, want 0.5", got)
	}
}

func TestAnalyticsStore_TradesByAgent(t *testing.T) {
	store := NewAnalyticsStore()
	ctx := context.Background()

	for i, id := range []string{"o1", "o2", "o3"} {
		tr := &domain.RealizedTrade{OrderID: id, AgentID: "a1", ExecutedAt: int64(100 * (i + 1))}
		if err := store.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("InsertTrade failed: %v", err)
		}
	}

	got, err := store.TradesByAgent(ctx, "a1", 2)
	if err != nil {
		t.Fatalf("TradesByAgent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(got))
	}
	if got[0].OrderID != "o3" || got[1].OrderID != "o2" {
		t.Errorf("Unexpected order: %s, %s", got[0].OrderID, got[1].OrderID)
	}
}
