package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// RevenueStore implements storage.RevenueStore using PostgreSQL.
type RevenueStore struct {
	pool *Pool
}

// NewRevenueStore creates a new RevenueStore.
func NewRevenueStore(pool *Pool) *RevenueStore {
	return &RevenueStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RevenueStore = (*RevenueStore)(nil)

// ApplyEvent records the event and credits the pool and the treasury in
// one transaction. The order_id unique constraint makes settlement
// once-per-order at the database level; on any failure the whole unit
// rolls back, so a retry starts clean.
func (s *RevenueStore) ApplyEvent(ctx context.Context, e *domain.RevenueEvent) (int64, error) {
	var accumulator int64
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		insertEvent := `
			INSERT INTO revenue_events (
				event_id, order_id, agent_id, profit, platform_fee, holder_pool, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.Exec(ctx, insertEvent,
			e.EventID,
			e.OrderID,
			e.AgentID,
			e.Profit,
			e.PlatformFee,
			e.HolderPool,
			e.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert revenue event: %w", err)
		}

		creditPool := `
			INSERT INTO revenue_pools (agent_id, accumulator, total_claimed, frozen, updated_at)
			VALUES ($1, $2, 0, FALSE, $3)
			ON CONFLICT (agent_id) DO UPDATE
			SET accumulator = revenue_pools.accumulator + $2, updated_at = $3
			RETURNING accumulator
		`
		err = tx.QueryRow(ctx, creditPool, e.AgentID, e.HolderPool, time.Now().UnixMilli()).Scan(&accumulator)
		if err != nil {
			return fmt.Errorf("credit revenue pool: %w", err)
		}

		creditTreasury := `
			INSERT INTO platform_treasury (id, total)
			VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE
			SET total = platform_treasury.total + $1
		`
		if _, err := tx.Exec(ctx, creditTreasury, e.PlatformFee); err != nil {
			return fmt.Errorf("credit treasury: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return accumulator, nil
}

// EventsByAgent retrieves revenue events for an agent, newest first.
func (s *RevenueStore) EventsByAgent(ctx context.Context, agentID string) ([]*domain.RevenueEvent, error) {
	query := `
		SELECT event_id, order_id, agent_id, profit, platform_fee, holder_pool, created_at
		FROM revenue_events
		WHERE agent_id = $1
		ORDER BY created_at DESC, event_id DESC
	`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("get revenue events by agent: %w", err)
	}
	defer rows.Close()

	var events []*domain.RevenueEvent
	for rows.Next() {
		var e domain.RevenueEvent
		err := rows.Scan(
			&e.EventID,
			&e.OrderID,
			&e.AgentID,
			&e.Profit,
			&e.PlatformFee,
			&e.HolderPool,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan revenue event row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revenue event rows: %w", err)
	}

	return events, nil
}

// Pool retrieves the revenue pool for an agent. A missing pool reads as a
// zero-valued pool.
func (s *RevenueStore) Pool(ctx context.Context, agentID string) (*domain.RevenuePool, error) {
	query := `
		SELECT agent_id, accumulator, total_claimed, frozen, updated_at
		FROM revenue_pools
		WHERE agent_id = $1
	`

	var p domain.RevenuePool
	err := s.pool.QueryRow(ctx, query, agentID).Scan(
		&p.AgentID,
		&p.Accumulator,
		&p.TotalClaimed,
		&p.Frozen,
		&p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.RevenuePool{AgentID: agentID}, nil
		}
		return nil, fmt.Errorf("get revenue pool: %w", err)
	}
	return &p, nil
}

// AddClaimed atomically adds delta to the pool's total claimed amount.
func (s *RevenueStore) AddClaimed(ctx context.Context, agentID string, delta int64) error {
	query := `
		INSERT INTO revenue_pools (agent_id, accumulator, total_claimed, frozen, updated_at)
		VALUES ($1, 0, $2, FALSE, $3)
		ON CONFLICT (agent_id) DO UPDATE
		SET total_claimed = revenue_pools.total_claimed + $2, updated_at = $3
	`

	if _, err := s.pool.Exec(ctx, query, agentID, delta, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("add claimed: %w", err)
	}
	return nil
}

// SetFrozen sets the frozen flag on the agent's pool.
func (s *RevenueStore) SetFrozen(ctx context.Context, agentID string, frozen bool) error {
	query := `
		INSERT INTO revenue_pools (agent_id, accumulator, total_claimed, frozen, updated_at)
		VALUES ($1, 0, 0, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE
		SET frozen = $2, updated_at = $3
	`

	if _, err := s.pool.Exec(ctx, query, agentID, frozen, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}
	return nil
}

// Treasury returns the accumulated platform fee total.
func (s *RevenueStore) Treasury(ctx context.Context) (int64, error) {
	query := `SELECT total FROM platform_treasury WHERE id = 1`

	var total int64
	err := s.pool.QueryRow(ctx, query).Scan(&total)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get treasury: %w", err)
	}
	return total, nil
}
