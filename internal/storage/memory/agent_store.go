// Package memory provides in-memory storage implementations for tests and
// for running the server without external databases.
package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentStore is an in-memory implementation of storage.AgentStore.
type AgentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Agent
}

// NewAgentStore creates a new in-memory agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		data: make(map[string]*domain.Agent),
	}
}

var _ storage.AgentStore = (*AgentStore)(nil)

// Insert adds a new agent. Returns ErrDuplicateKey if exists.
func (s *AgentStore) Insert(_ context.Context, a *domain.Agent) error {
	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.AgentID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *a
	s.data[a.AgentID] = &cp
	return nil
}

// GetByID retrieves an agent by ID.
func (s *AgentStore) GetByID(_ context.Context, agentID string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Update overwrites an existing agent.
func (s *AgentStore) Update(_ context.Context, a *domain.Agent) error {
	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.AgentID]; !exists {
		return storage.ErrNotFound
	}

	cp := *a
	s.data[a.AgentID] = &cp
	return nil
}

// ListEnabled retrieves agents that can trade, ordered by creation time ASC.
func (s *AgentStore) ListEnabled(_ context.Context) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Agent
	for _, a := range s.data {
		if a.Disabled || a.RiskBreached {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	sortAgents(result)
	return result, nil
}

// List retrieves all agents ordered by creation time ASC.
func (s *AgentStore) List(_ context.Context) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Agent, 0, len(s.data))
	for _, a := range s.data {
		cp := *a
		result = append(result, &cp)
	}

	sortAgents(result)
	return result, nil
}

func sortAgents(agents []*domain.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt != agents[j].CreatedAt {
			return agents[i].CreatedAt < agents[j].CreatedAt
		}
		return agents[i].AgentID < agents[j].AgentID
	})
}
