package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AnalyticsStore is an in-memory implementation of storage.AnalyticsStore.
type AnalyticsStore struct {
	mu     sync.RWMutex
	trades []*domain.RealizedTrade
}

// NewAnalyticsStore creates a new in-memory analytics store.
func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{}
}

var _ storage.AnalyticsStore = (*AnalyticsStore)(nil)

// InsertTrade records an executed trade.
func (s *AnalyticsStore) InsertTrade(_ context.Context, tr *domain.RealizedTrade) error {
	if tr == nil || tr.OrderID == "" || tr.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tr
	s.trades = append(s.trades, &cp)
	return nil
}

// Leaderboard aggregates per-agent performance over [start, end].
func (s *AnalyticsStore) Leaderboard(_ context.Context, start, end int64, limit int) ([]*domain.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAgent := make(map[string]*domain.LeaderboardRow)
	for _, tr := range s.trades {
		if tr.ExecutedAt < start || tr.ExecutedAt > end {
			continue
		}
		row, ok := byAgent[tr.AgentID]
		if !ok {
			row = &domain.LeaderboardRow{AgentID: tr.AgentID}
			byAgent[tr.AgentID] = row
		}
		row.Trades++
		if tr.Profit > 0 {
			row.Wins++
		}
		row.TotalProfit += tr.Profit
		row.FeesPaid += tr.PlatformFee
	}

	result := make([]*domain.LeaderboardRow, 0, len(byAgent))
	for _, row := range byAgent {
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalProfit != result[j].TotalProfit {
			return result[i].TotalProfit > result[j].TotalProfit
		}
		return result[i].AgentID < result[j].AgentID
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// TradesByAgent retrieves executed trades for an agent, newest first.
func (s *AnalyticsStore) TradesByAgent(_ context.Context, agentID string, limit int) ([]*domain.RealizedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RealizedTrade
	for _, tr := range s.trades {
		if tr.AgentID == agentID {
			cp := *tr
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExecutedAt != result[j].ExecutedAt {
			return result[i].ExecutedAt > result[j].ExecutedAt
		}
		return result[i].OrderID > result[j].OrderID
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}
