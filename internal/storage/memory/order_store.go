package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeOrder
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[string]*domain.TradeOrder),
	}
}

var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.TradeOrder) error {
	if o == nil || o.OrderID == "" || o.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *o
	s.data[o.OrderID] = &cp
	return nil
}

// Update overwrites an existing order.
func (s *OrderStore) Update(_ context.Context, o *domain.TradeOrder) error {
	if o == nil || o.OrderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; !exists {
		return storage.ErrNotFound
	}

	cp := *o
	s.data[o.OrderID] = &cp
	return nil
}

// GetByID retrieves an order by ID.
func (s *OrderStore) GetByID(_ context.Context, orderID string) (*domain.TradeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// GetByAgent retrieves orders for an agent, newest first.
func (s *OrderStore) GetByAgent(_ context.Context, agentID string, limit int) ([]*domain.TradeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeOrder
	for _, o := range s.data {
		if o.AgentID == agentID {
			cp := *o
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].OrderID > result[j].OrderID
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}
