package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// Ledger errors.
var (
	// ErrPoolFrozen means the agent's revenue pool has been frozen after
	// an accounting invariant failure; no settlement or claims proceed
	// until an operator intervenes.
	ErrPoolFrozen = errors.New("settlement: revenue pool frozen")

	// ErrInvariant means an accounting invariant did not hold. The pool
	// is frozen as a side effect.
	ErrInvariant = errors.New("settlement: accounting invariant violated")

	// ErrAlreadySettled means a revenue event for the order exists.
	ErrAlreadySettled = errors.New("settlement: order already settled")

	// ErrInvalidClaim means the claim parameters are unusable.
	ErrInvalidClaim = errors.New("settlement: invalid claim parameters")
)

// Ledger settles executed orders into revenue events and pays holder
// claims. All pool mutations for one agent run under that agent's lock,
// so accumulator reads and writes never interleave.
type Ledger struct {
	revenue storage.RevenueStore
	claims  storage.ClaimStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(revenue storage.RevenueStore, claims storage.ClaimStore) *Ledger {
	return &Ledger{
		revenue: revenue,
		claims:  claims,
		locks:   make(map[string]*sync.Mutex),
	}
}

// agentLock returns the per-agent mutex, creating it on first use.
func (l *Ledger) agentLock(agentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[agentID] = lock
	}
	return lock
}

// Settle records the revenue event for an executed order and distributes
// profit into the treasury and the agent's holder pool. Losing and
// break-even trades settle to nothing: no event, no pool movement.
// Settlement is once per order; a second call returns ErrAlreadySettled.
func (l *Ledger) Settle(ctx context.Context, order *domain.TradeOrder) (*domain.RevenueEvent, error) {
	if order.Status != domain.OrderStatusExecuted {
		return nil, fmt.Errorf("settle order %s: status %s is not executed", order.OrderID, order.Status)
	}

	lock := l.agentLock(order.AgentID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := l.revenue.Pool(ctx, order.AgentID)
	if err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	if pool.Frozen {
		return nil, fmt.Errorf("%w: agent %s", ErrPoolFrozen, order.AgentID)
	}

	profit, fee, holderPool := Split(order.RealizedIn, order.RealizedOut)
	if profit <= 0 {
		return nil, nil
	}

	event := &domain.RevenueEvent{
		EventID:     uuid.NewString(),
		OrderID:     order.OrderID,
		AgentID:     order.AgentID,
		Profit:      profit,
		PlatformFee: fee,
		HolderPool:  holderPool,
		CreatedAt:   time.Now().UnixMilli(),
	}

	// Event, pool credit, and treasury credit land as one atomic unit:
	// a failure applies nothing, so the same order can settle on retry.
	// The event's order_id uniqueness is the idempotency gate.
	newAcc, err := l.revenue.ApplyEvent(ctx, event)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: order %s", ErrAlreadySettled, order.OrderID)
		}
		return nil, fmt.Errorf("apply revenue event: %w", err)
	}

	// The accumulator must never fall behind what holders already took.
	if newAcc < pool.TotalClaimed {
		l.freeze(ctx, order.AgentID)
		return nil, fmt.Errorf("%w: accumulator %d below claimed %d for agent %s",
			ErrInvariant, newAcc, pool.TotalClaimed, order.AgentID)
	}

	return event, nil
}

// Claim pays holder their pro-rata share of the agent's accumulated
// revenue pool: floor(accumulator * holdings / supply) minus what the
// holder already claimed. A holder with nothing new to claim gets 0 and
// no error. The remainder from flooring stays in the pool.
func (l *Ledger) Claim(ctx context.Context, holder, agentID string, holdings, supply int64) (int64, error) {
	if holder == "" || agentID == "" {
		return 0, fmt.Errorf("%w: empty holder or agent", ErrInvalidClaim)
	}
	if supply <= 0 || holdings < 0 || holdings > supply {
		return 0, fmt.Errorf("%w: holdings %d of supply %d", ErrInvalidClaim, holdings, supply)
	}

	lock := l.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := l.revenue.Pool(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("read pool: %w", err)
	}
	if pool.Frozen {
		return 0, fmt.Errorf("%w: agent %s", ErrPoolFrozen, agentID)
	}

	entitled := proRata(pool.Accumulator, holdings, supply)

	cursor, err := l.claims.Get(ctx, holder, agentID)
	if err != nil {
		return 0, fmt.Errorf("read claim cursor: %w", err)
	}

	claimable := entitled - cursor.Claimed
	if claimable <= 0 {
		return 0, nil
	}

	// Paying this claim must not take the pool past its accumulator.
	if claimable+pool.TotalClaimed > pool.Accumulator {
		l.freeze(ctx, agentID)
		return 0, fmt.Errorf("%w: claim %d would exceed pool (claimed %d, accumulator %d)",
			ErrInvariant, claimable, pool.TotalClaimed, pool.Accumulator)
	}

	if err := l.claims.Advance(ctx, holder, agentID, entitled); err != nil {
		return 0, fmt.Errorf("advance claim cursor: %w", err)
	}
	if err := l.revenue.AddClaimed(ctx, agentID, claimable); err != nil {
		return 0, fmt.Errorf("add claimed: %w", err)
	}

	return claimable, nil
}

// Unclaimed returns what remains in the agent's pool after all claims,
// including dust from pro-rata flooring.
func (l *Ledger) Unclaimed(ctx context.Context, agentID string) (int64, error) {
	pool, err := l.revenue.Pool(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("read pool: %w", err)
	}
	return pool.Unclaimed(), nil
}

// freeze marks the pool frozen. Best effort: the invariant error is the
// primary signal even if the flag write fails.
func (l *Ledger) freeze(ctx context.Context, agentID string) {
	_ = l.revenue.SetFrozen(ctx, agentID, true)
}

// proRata computes floor(accumulator * holdings / supply) with the
// intermediate product widened past int64.
func proRata(accumulator, holdings, supply int64) int64 {
	product := new(big.Int).Mul(big.NewInt(accumulator), big.NewInt(holdings))
	product.Quo(product, big.NewInt(supply))
	return product.Int64()
}
