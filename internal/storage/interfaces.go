package storage

import (
	"context"

	"agent-engine/internal/domain"
)

// AgentStore provides access to agents storage.
type AgentStore interface {
	// Insert adds a new agent. Returns ErrDuplicateKey if agent_id exists.
	Insert(ctx context.Context, a *domain.Agent) error

	// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, agentID string) (*domain.Agent, error)

	// Update overwrites an existing agent. Returns ErrNotFound if not exists.
	Update(ctx context.Context, a *domain.Agent) error

	// ListEnabled retrieves agents that are neither disabled nor risk-breached,
	// ordered by creation time ASC.
	ListEnabled(ctx context.Context) ([]*domain.Agent, error)

	// List retrieves all agents ordered by creation time ASC.
	List(ctx context.Context) ([]*domain.Agent, error)
}

// OrderStore provides access to trade_orders storage.
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
	Insert(ctx context.Context, o *domain.TradeOrder) error

	// Update overwrites an existing order. Returns ErrNotFound if not exists.
	Update(ctx context.Context, o *domain.TradeOrder) error

	// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID string) (*domain.TradeOrder, error)

	// GetByAgent retrieves orders for an agent, newest first, at most limit
	// rows. limit <= 0 means no limit.
	GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.TradeOrder, error)
}

// DecisionStore provides access to stage_decisions storage. Decisions are
// append-only: the pipeline records each stage verdict exactly once.
type DecisionStore interface {
	// Insert adds a new decision. Returns ErrDuplicateKey if (order_id, seq) exists.
	Insert(ctx context.Context, d *domain.StageDecision) error

	// GetByOrder retrieves all decisions for an order, ordered by seq ASC.
	GetByOrder(ctx context.Context, orderID string) ([]*domain.StageDecision, error)
}

// RevenueStore provides access to revenue events, per-agent revenue pools,
// and the platform treasury.
type RevenueStore interface {
	// ApplyEvent records a revenue event and credits the agent's pool
	// accumulator and the platform treasury as one atomic unit: either all
	// three land or none do. Returns the new accumulator value, or
	// ErrDuplicateKey if an event for the same order already exists;
	// settlement is once per order.
	ApplyEvent(ctx context.Context, e *domain.RevenueEvent) (int64, error)

	// EventsByAgent retrieves revenue events for an agent, newest first.
	EventsByAgent(ctx context.Context, agentID string) ([]*domain.RevenueEvent, error)

	// Pool retrieves the revenue pool for an agent. A missing pool is
	// returned as a zero-valued pool, not an error.
	Pool(ctx context.Context, agentID string) (*domain.RevenuePool, error)

	// AddClaimed atomically adds delta to the agent's total claimed amount.
	AddClaimed(ctx context.Context, agentID string, delta int64) error

	// SetFrozen sets the frozen flag on the agent's pool.
	SetFrozen(ctx context.Context, agentID string, frozen bool) error

	// Treasury returns the accumulated platform fee total.
	Treasury(ctx context.Context) (int64, error)
}

// ClaimStore tracks per-holder cumulative claim cursors.
type ClaimStore interface {
	// Get retrieves the claim cursor for (holder, agent). A missing cursor
	// is returned as a zero-valued claim, not an error.
	Get(ctx context.Context, holder, agentID string) (*domain.HolderClaim, error)

	// Advance moves the cursor for (holder, agent) forward to claimed,
	// creating it if absent. Returns ErrInvalidInput if claimed would move
	// the cursor backwards.
	Advance(ctx context.Context, holder, agentID string, claimed int64) error
}

// AnalyticsStore records executed trades for reporting.
type AnalyticsStore interface {
	// InsertTrade records an executed trade.
	InsertTrade(ctx context.Context, tr *domain.RealizedTrade) error

	// Leaderboard aggregates per-agent performance over trades executed
	// within [start, end], ordered by total profit DESC, at most limit rows.
	Leaderboard(ctx context.Context, start, end int64, limit int) ([]*domain.LeaderboardRow, error)

	// TradesByAgent retrieves executed trades for an agent, newest first,
	// at most limit rows.
	TradesByAgent(ctx context.Context, agentID string, limit int) ([]*domain.RealizedTrade, error)
}
