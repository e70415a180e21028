package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StageDecision // keyed by order_id|seq
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		data: make(map[string]*domain.StageDecision),
	}
}

var _ storage.DecisionStore = (*DecisionStore)(nil)

func decisionKey(orderID string, seq int) string {
	return fmt.Sprintf("%s|%d", orderID, seq)
}

// Insert adds a new decision. Returns ErrDuplicateKey if (order_id, seq) exists.
func (s *DecisionStore) Insert(_ context.Context, d *domain.StageDecision) error {
	if d == nil || d.OrderID == "" || d.Stage == "" {
		return storage.ErrInvalidInput
	}

	key := decisionKey(d.OrderID, d.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *d
	s.data[key] = &cp
	return nil
}

// GetByOrder retrieves all decisions for an order, ordered by seq ASC.
func (s *DecisionStore) GetByOrder(_ context.Context, orderID string) ([]*domain.StageDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StageDecision
	for _, d := range s.data {
		if d.OrderID == orderID {
			cp := *d
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}
