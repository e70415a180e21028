package postgres

import (
	"context"
	"fmt"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// ClaimStore implements storage.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *Pool
}

// NewClaimStore creates a new ClaimStore.
func NewClaimStore(pool *Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClaimStore = (*ClaimStore)(nil)

// Get retrieves the claim cursor for (holder, agent). A missing cursor
// reads as zero.
func (s *ClaimStore) Get(ctx context.Context, holder, agentID string) (*domain.HolderClaim, error) {
	query := `
		SELECT holder, agent_id, claimed, updated_at
		FROM holder_claims
		WHERE holder = $1 AND agent_id = $2
	`

	var c domain.HolderClaim
	err := s.pool.QueryRow(ctx, query, holder, agentID).Scan(
		&c.Holder,
		&c.AgentID,
		&c.Claimed,
		&c.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.HolderClaim{Holder: holder, AgentID: agentID}, nil
		}
		return nil, fmt.Errorf("get holder claim: %w", err)
	}
	return &c, nil
}

// Advance moves the cursor forward to claimed. The WHERE guard on the
// upsert keeps the cursor monotonic under concurrent claims.
func (s *ClaimStore) Advance(ctx context.Context, holder, agentID string, claimed int64) error {
	if holder == "" || agentID == "" || claimed < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO holder_claims (holder, agent_id, claimed, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (holder, agent_id) DO UPDATE
		SET claimed = $3, updated_at = $4
		WHERE holder_claims.claimed <= $3
	`

	tag, err := s.pool.Exec(ctx, query, holder, agentID, claimed, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("advance holder claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrInvalidInput
	}
	return nil
}
