package pipeline

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
)

// riskDivisor maps risk tolerance 1..10 onto 5%..50% of portfolio:
// cap = portfolio * tolerance / 20.
const riskDivisor = 20

// RiskManager bounds position size by the agent's risk tolerance and its
// configured hard cap. It never touches the network.
type RiskManager struct{}

// NewRiskManager creates the risk review stage.
func NewRiskManager() *RiskManager {
	return &RiskManager{}
}

var _ Stage = (*RiskManager)(nil)

// Name implements Stage.
func (r *RiskManager) Name() string {
	return domain.StageRiskReview
}

// PositionCap returns the largest position the agent may take given its
// portfolio: the tolerance-scaled fraction, clamped by the agent's hard
// per-trade cap when one is set.
func PositionCap(agent *domain.Agent, portfolio int64) int64 {
	limit := portfolio * int64(agent.RiskTolerance) / riskDivisor
	if agent.MaxTradeLamports > 0 && limit > agent.MaxTradeLamports {
		limit = agent.MaxTradeLamports
	}
	return limit
}

// Review approves orders that fit inside the agent's position cap and
// its available portfolio.
func (r *RiskManager) Review(_ context.Context, a *Assessment) (*Verdict, error) {
	limit := PositionCap(a.Agent, a.Portfolio)

	if a.Agent.RiskBreached {
		return &Verdict{
			Approve:             false,
			Rationale:           "agent risk limit breached; trading suspended until cleared",
			MaxPositionLamports: limit,
		}, nil
	}
	if a.Order.AmountIn > a.Portfolio {
		return &Verdict{
			Approve:             false,
			Rationale:           fmt.Sprintf("order %d exceeds portfolio %d", a.Order.AmountIn, a.Portfolio),
			MaxPositionLamports: limit,
		}, nil
	}
	if a.Order.AmountIn > limit {
		return &Verdict{
			Approve: false,
			Rationale: fmt.Sprintf("order %d exceeds position cap %d (tolerance %d/10)",
				a.Order.AmountIn, limit, a.Agent.RiskTolerance),
			MaxPositionLamports: limit,
		}, nil
	}

	return &Verdict{
		Approve:             true,
		Rationale:           fmt.Sprintf("position %d within cap %d", a.Order.AmountIn, limit),
		MaxPositionLamports: limit,
	}, nil
}
