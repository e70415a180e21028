package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// RevenueStore is an in-memory implementation of storage.RevenueStore.
type RevenueStore struct {
	mu       sync.RWMutex
	events   map[string]*domain.RevenueEvent // keyed by order_id
	pools    map[string]*domain.RevenuePool  // keyed by agent_id
	treasury int64
}

// NewRevenueStore creates a new in-memory revenue store.
func NewRevenueStore() *RevenueStore {
	return &RevenueStore{
		events: make(map[string]*domain.RevenueEvent),
		pools:  make(map[string]*domain.RevenuePool),
	}
}

var _ storage.RevenueStore = (*RevenueStore)(nil)

// ApplyEvent records the event and credits pool and treasury under one
// lock hold. Returns ErrDuplicateKey if an event for the same order
// already exists.
func (s *RevenueStore) ApplyEvent(_ context.Context, e *domain.RevenueEvent) (int64, error) {
	if e == nil || e.OrderID == "" || e.AgentID == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.OrderID]; exists {
		return 0, storage.ErrDuplicateKey
	}

	cp := *e
	s.events[e.OrderID] = &cp

	p := s.pool(e.AgentID)
	p.Accumulator += e.HolderPool
	p.UpdatedAt = time.Now().UnixMilli()
	s.treasury += e.PlatformFee
	return p.Accumulator, nil
}

// EventsByAgent retrieves revenue events for an agent, newest first.
func (s *RevenueStore) EventsByAgent(_ context.Context, agentID string) ([]*domain.RevenueEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RevenueEvent
	for _, e := range s.events {
		if e.AgentID == agentID {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].EventID > result[j].EventID
	})

	return result, nil
}

// pool returns the stored pool for agentID, creating it if absent.
// Caller must hold the write lock.
func (s *RevenueStore) pool(agentID string) *domain.RevenuePool {
	p, ok := s.pools[agentID]
	if !ok {
		p = &domain.RevenuePool{AgentID: agentID}
		s.pools[agentID] = p
	}
	return p
}

// Pool retrieves the revenue pool for an agent.
func (s *RevenueStore) Pool(_ context.Context, agentID string) (*domain.RevenuePool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[agentID]
	if !ok {
		return &domain.RevenuePool{AgentID: agentID}, nil
	}
	cp := *p
	return &cp, nil
}

// AddClaimed atomically adds delta to the pool's total claimed amount.
func (s *RevenueStore) AddClaimed(_ context.Context, agentID string, delta int64) error {
	if agentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pool(agentID)
	p.TotalClaimed += delta
	p.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// SetFrozen sets the frozen flag on the agent's pool.
func (s *RevenueStore) SetFrozen(_ context.Context, agentID string, frozen bool) error {
	if agentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pool(agentID)
	p.Frozen = frozen
	p.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Treasury returns the accumulated platform fee total.
func (s *RevenueStore) Treasury(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treasury, nil
}
