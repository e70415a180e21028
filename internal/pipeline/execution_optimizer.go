package pipeline

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
)

// DefaultMaxImpactBps rejects swaps that would move the market more than
// this much regardless of the quoted edge.
const DefaultMaxImpactBps = int64(300)

// ExecutionOptimizer dry-runs the exact swap about to be executed and
// rejects it when the simulation is infeasible, the price impact is
// excessive, or the simulated fill falls short of the quote by more than
// the order's slippage budget.
type ExecutionOptimizer struct {
	gateway      exchange.Gateway
	maxImpactBps int64
}

// NewExecutionOptimizer creates the execution review stage.
// maxImpactBps <= 0 selects the default.
func NewExecutionOptimizer(gateway exchange.Gateway, maxImpactBps int64) *ExecutionOptimizer {
	if maxImpactBps <= 0 {
		maxImpactBps = DefaultMaxImpactBps
	}
	return &ExecutionOptimizer{gateway: gateway, maxImpactBps: maxImpactBps}
}

var _ Stage = (*ExecutionOptimizer)(nil)

// Name implements Stage.
func (e *ExecutionOptimizer) Name() string {
	return domain.StageExecutionReview
}

// Review simulates the swap and checks the fill against the quote.
func (e *ExecutionOptimizer) Review(ctx context.Context, a *Assessment) (*Verdict, error) {
	sim, err := e.gateway.Simulate(ctx, a.Order)
	if err != nil {
		if transientGatewayError(err) {
			return &Verdict{
				Approve:   false,
				Rationale: fmt.Sprintf("simulation unavailable: %v", err),
			}, nil
		}
		return nil, fmt.Errorf("simulate swap: %w", err)
	}
	a.Simulation = sim

	if !sim.Feasible {
		reason := sim.Reason
		if reason == "" {
			reason = "simulation reported infeasible"
		}
		return &Verdict{Approve: false, Rationale: reason, PriceImpactBps: sim.PriceImpactBps}, nil
	}

	if sim.PriceImpactBps > int64(a.Order.SlippageBps) {
		return &Verdict{
			Approve: false,
			Rationale: fmt.Sprintf("price impact %d bps above order slippage tolerance %d bps",
				sim.PriceImpactBps, a.Order.SlippageBps),
			PriceImpactBps: sim.PriceImpactBps,
		}, nil
	}
	if sim.PriceImpactBps > e.maxImpactBps {
		return &Verdict{
			Approve:        false,
			Rationale:      fmt.Sprintf("price impact %d bps above limit %d bps", sim.PriceImpactBps, e.maxImpactBps),
			PriceImpactBps: sim.PriceImpactBps,
		}, nil
	}

	// Compare the simulated fill against the quoted expectation within
	// the order's slippage budget.
	if a.Quote != nil {
		floor := a.Quote.ExpectedOut - a.Quote.ExpectedOut*int64(a.Order.SlippageBps)/10_000
		if sim.EstimatedOut < floor {
			return &Verdict{
				Approve: false,
				Rationale: fmt.Sprintf("simulated fill %d below slippage floor %d (quote %d, budget %d bps)",
					sim.EstimatedOut, floor, a.Quote.ExpectedOut, a.Order.SlippageBps),
				ExpectedOut:    sim.EstimatedOut,
				PriceImpactBps: sim.PriceImpactBps,
			}, nil
		}
	}

	return &Verdict{
		Approve:        true,
		Rationale:      fmt.Sprintf("simulated fill %d within slippage budget", sim.EstimatedOut),
		ExpectedOut:    sim.EstimatedOut,
		PriceImpactBps: sim.PriceImpactBps,
	}, nil
}
