package engine

import (
	"context"

	"agent-engine/internal/domain"
	"agent-engine/internal/pipeline"
)

// TradeSignal is a candidate trade proposed for one cycle. The approval
// pipeline, not the signal source, decides whether it executes.
type TradeSignal struct {
	InputMint   string
	OutputMint  string
	AmountIn    int64
	SlippageBps int
}

// SignalSource proposes the trade a cycle should evaluate. Strategy
// content is pluggable; the engine only requires that a proposal names a
// pair and an amount. Returning nil means the agent sits this cycle out.
type SignalSource interface {
	Propose(ctx context.Context, agent *domain.Agent, portfolio int64) (*TradeSignal, error)
}

// FixedPairSource proposes the same pair every cycle, sized at half the
// agent's current position cap. Useful as a default and in tests; real
// deployments plug in their own source.
type FixedPairSource struct {
	InputMint   string
	OutputMint  string
	SlippageBps int
}

var _ SignalSource = (*FixedPairSource)(nil)

// Propose implements SignalSource.
func (s *FixedPairSource) Propose(_ context.Context, agent *domain.Agent, portfolio int64) (*TradeSignal, error) {
	amount := pipeline.PositionCap(agent, portfolio) / 2
	if amount <= 0 {
		return nil, nil
	}
	return &TradeSignal{
		InputMint:   s.InputMint,
		OutputMint:  s.OutputMint,
		AmountIn:    amount,
		SlippageBps: s.SlippageBps,
	}, nil
}
