package clickhouse

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// TradeStore implements storage.AnalyticsStore using ClickHouse.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AnalyticsStore = (*TradeStore)(nil)

// InsertTrade records an executed trade.
func (s *TradeStore) InsertTrade(ctx context.Context, tr *domain.RealizedTrade) error {
	if tr == nil || tr.OrderID == "" || tr.AgentID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO realized_trades (
			order_id, agent_id, input_mint, output_mint,
			amount_in, realized_out, profit, platform_fee, holder_pool,
			executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		tr.OrderID,
		tr.AgentID,
		tr.InputMint,
		tr.OutputMint,
		tr.AmountIn,
		tr.RealizedOut,
		tr.Profit,
		tr.PlatformFee,
		tr.HolderPool,
		tr.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert realized trade: %w", err)
	}
	return nil
}

// Leaderboard aggregates per-agent performance over [start, end].
func (s *TradeStore) Leaderboard(ctx context.Context, start, end int64, limit int) ([]*domain.LeaderboardRow, error) {
	query := `
		SELECT
			agent_id,
			toInt64(count()) AS trades,
			toInt64(countIf(profit > 0)) AS wins,
			sum(profit) AS total_profit,
			sum(platform_fee) AS fees_paid
		FROM realized_trades
		WHERE executed_at >= ? AND executed_at <= ?
		GROUP BY agent_id
		ORDER BY total_profit DESC, agent_id ASC
	`
	args := []interface{}{start, end}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var result []*domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		err := rows.Scan(
			&row.AgentID,
			&row.Trades,
			&row.Wins,
			&row.TotalProfit,
			&row.FeesPaid,
		)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		result = append(result, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}

	return result, nil
}

// TradesByAgent retrieves executed trades for an agent, newest first.
func (s *TradeStore) TradesByAgent(ctx context.Context, agentID string, limit int) ([]*domain.RealizedTrade, error) {
	query := `
		SELECT order_id, agent_id, input_mint, output_mint,
			amount_in, realized_out, profit, platform_fee, holder_pool,
			executed_at
		FROM realized_trades
		WHERE agent_id = ?
		ORDER BY executed_at DESC, order_id DESC
	`
	args := []interface{}{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades by agent: %w", err)
	}
	defer rows.Close()

	var result []*domain.RealizedTrade
	for rows.Next() {
		var tr domain.RealizedTrade
		err := rows.Scan(
			&tr.OrderID,
			&tr.AgentID,
			&tr.InputMint,
			&tr.OutputMint,
			&tr.AmountIn,
			&tr.RealizedOut,
			&tr.Profit,
			&tr.PlatformFee,
			&tr.HolderPool,
			&tr.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		result = append(result, &tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return result, nil
}
