package memory

import (
	"context"
	"sync"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// ClaimStore is an in-memory implementation of storage.ClaimStore.
type ClaimStore struct {
	mu   sync.RWMutex
	data map[string]*domain.HolderClaim // keyed by holder|agent_id
}

// NewClaimStore creates a new in-memory claim store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{
		data: make(map[string]*domain.HolderClaim),
	}
}

var _ storage.ClaimStore = (*ClaimStore)(nil)

func claimKey(holder, agentID string) string {
	return holder + "|" + agentID
}

// Get retrieves the claim cursor for (holder, agent).
func (s *ClaimStore) Get(_ context.Context, holder, agentID string) (*domain.HolderClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[claimKey(holder, agentID)]
	if !ok {
		return &domain.HolderClaim{Holder: holder, AgentID: agentID}, nil
	}
	cp := *c
	return &cp, nil
}

// Advance moves the cursor forward to claimed. The cursor is cumulative
// and never moves backwards.
func (s *ClaimStore) Advance(_ context.Context, holder, agentID string, claimed int64) error {
	if holder == "" || agentID == "" || claimed < 0 {
		return storage.ErrInvalidInput
	}

	key := claimKey(holder, agentID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		s.data[key] = &domain.HolderClaim{
			Holder:    holder,
			AgentID:   agentID,
			Claimed:   claimed,
			UpdatedAt: time.Now().UnixMilli(),
		}
		return nil
	}

	if claimed < c.Claimed {
		return storage.ErrInvalidInput
	}
	c.Claimed = claimed
	c.UpdatedAt = time.Now().UnixMilli()
	return nil
}
