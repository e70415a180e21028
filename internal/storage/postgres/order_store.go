package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	order_id, agent_id, input_mint, output_mint, amount_in, slippage_bps,
	status, reject_stage, reject_reason, tx_signature,
	realized_in, realized_out, created_at, completed_at
`

// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.TradeOrder) error {
	query := `
		INSERT INTO trade_orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID,
		o.AgentID,
		o.InputMint,
		o.OutputMint,
		o.AmountIn,
		o.SlippageBps,
		o.Status,
		o.RejectStage,
		o.RejectReason,
		o.TxSignature,
		o.RealizedIn,
		o.RealizedOut,
		o.CreatedAt,
		o.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Update overwrites an existing order. Returns ErrNotFound if not exists.
func (s *OrderStore) Update(ctx context.Context, o *domain.TradeOrder) error {
	query := `
		UPDATE trade_orders SET
			status = $2, reject_stage = $3, reject_reason = $4,
			tx_signature = $5, realized_in = $6, realized_out = $7,
			completed_at = $8
		WHERE order_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		o.OrderID,
		o.Status,
		o.RejectStage,
		o.RejectReason,
		o.TxSignature,
		o.RealizedIn,
		o.RealizedOut,
		o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an order by ID. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.TradeOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM trade_orders WHERE order_id = $1`

	row := s.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// GetByAgent retrieves orders for an agent, newest first.
func (s *OrderStore) GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.TradeOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM trade_orders
		WHERE agent_id = $1
		ORDER BY created_at DESC, order_id DESC
	`
	args := []interface{}{agentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get orders by agent: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrder(row pgx.Row) (*domain.TradeOrder, error) {
	var o domain.TradeOrder
	err := row.Scan(
		&o.OrderID,
		&o.AgentID,
		&o.InputMint,
		&o.OutputMint,
		&o.AmountIn,
		&o.SlippageBps,
		&o.Status,
		&o.RejectStage,
		&o.RejectReason,
		&o.TxSignature,
		&o.RealizedIn,
		&o.RealizedOut,
		&o.CreatedAt,
		&o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*domain.TradeOrder, error) {
	var orders []*domain.TradeOrder

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}
