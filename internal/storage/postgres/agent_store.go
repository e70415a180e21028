package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentStore implements storage.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

const agentColumns = `
	agent_id, name, creator, wallet, encrypted_key, token_mint,
	risk_tolerance, max_trade_lamports, cycle_interval_ms, funding_lamports,
	disabled, risk_breached, created_at, updated_at
`

// Insert adds a new agent. Returns ErrDuplicateKey if agent_id exists.
func (s *AgentStore) Insert(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AgentID,
		a.Name,
		a.Creator,
		a.Wallet,
		a.EncryptedKey,
		a.TokenMint,
		a.RiskTolerance,
		a.MaxTradeLamports,
		a.CycleIntervalMs,
		a.FundingLamports,
		a.Disabled,
		a.RiskBreached,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent by ID. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByID(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = $1`

	row := s.pool.QueryRow(ctx, query, agentID)
	a, err := scanAgent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent by id: %w", err)
	}
	return a, nil
}

// Update overwrites an existing agent. Returns ErrNotFound if not exists.
func (s *AgentStore) Update(ctx context.Context, a *domain.Agent) error {
	query := `
		UPDATE agents SET
			name = $2, creator = $3, wallet = $4, encrypted_key = $5,
			token_mint = $6, risk_tolerance = $7, max_trade_lamports = $8,
			cycle_interval_ms = $9, funding_lamports = $10, disabled = $11,
			risk_breached = $12, updated_at = $13
		WHERE agent_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		a.AgentID,
		a.Name,
		a.Creator,
		a.Wallet,
		a.EncryptedKey,
		a.TokenMint,
		a.RiskTolerance,
		a.MaxTradeLamports,
		a.CycleIntervalMs,
		a.FundingLamports,
		a.Disabled,
		a.RiskBreached,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListEnabled retrieves agents that can trade, ordered by creation time ASC.
func (s *AgentStore) ListEnabled(ctx context.Context) ([]*domain.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE NOT disabled AND NOT risk_breached
		ORDER BY created_at ASC, agent_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled agents: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

// List retrieves all agents ordered by creation time ASC.
func (s *AgentStore) List(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at ASC, agent_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(
		&a.AgentID,
		&a.Name,
		&a.Creator,
		&a.Wallet,
		&a.EncryptedKey,
		&a.TokenMint,
		&a.RiskTolerance,
		&a.MaxTradeLamports,
		&a.CycleIntervalMs,
		&a.FundingLamports,
		&a.Disabled,
		&a.RiskBreached,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAgents(rows pgx.Rows) ([]*domain.Agent, error) {
	var agents []*domain.Agent

	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}

	return agents, nil
}
