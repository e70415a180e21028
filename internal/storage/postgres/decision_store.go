package postgres

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a new decision. Returns ErrDuplicateKey if (order_id, seq) exists.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.StageDecision) error {
	query := `
		INSERT INTO stage_decisions (
			decision_id, order_id, agent_id, stage, seq, verdict, rationale,
			expected_out, expected_edge_bps, max_position_lamports, price_impact_bps,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		d.DecisionID,
		d.OrderID,
		d.AgentID,
		d.Stage,
		d.Seq,
		d.Verdict,
		d.Rationale,
		d.ExpectedOut,
		d.ExpectedEdgeBps,
		d.MaxPositionLamports,
		d.PriceImpactBps,
		d.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetByOrder retrieves all decisions for an order, ordered by seq ASC.
func (s *DecisionStore) GetByOrder(ctx context.Context, orderID string) ([]*domain.StageDecision, error) {
	query := `
		SELECT decision_id, order_id, agent_id, stage, seq, verdict, rationale,
			expected_out, expected_edge_bps, max_position_lamports, price_impact_bps,
			created_at
		FROM stage_decisions
		WHERE order_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get decisions by order: %w", err)
	}
	defer rows.Close()

	var decisions []*domain.StageDecision
	for rows.Next() {
		var d domain.StageDecision
		err := rows.Scan(
			&d.DecisionID,
			&d.OrderID,
			&d.AgentID,
			&d.Stage,
			&d.Seq,
			&d.Verdict,
			&d.Rationale,
			&d.ExpectedOut,
			&d.ExpectedEdgeBps,
			&d.MaxPositionLamports,
			&d.PriceImpactBps,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		decisions = append(decisions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}

	return decisions, nil
}
