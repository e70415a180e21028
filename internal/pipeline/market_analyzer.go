package pipeline

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
)

// DefaultMinEdgeBps is the minimum round-trip edge a trade must show
// before it is worth paying execution costs.
const DefaultMinEdgeBps = int64(30)

// MarketAnalyzer approves orders that show a positive round-trip edge:
// quoting in -> out and back out -> in must return more than the input
// plus the minimum edge. An optional advisor annotates the rationale.
type MarketAnalyzer struct {
	gateway    exchange.Gateway
	minEdgeBps int64
	advisor    *Advisor
}

// NewMarketAnalyzer creates the market analysis stage. minEdgeBps <= 0
// selects the default. advisor may be nil.
func NewMarketAnalyzer(gateway exchange.Gateway, minEdgeBps int64, advisor *Advisor) *MarketAnalyzer {
	if minEdgeBps <= 0 {
		minEdgeBps = DefaultMinEdgeBps
	}
	return &MarketAnalyzer{gateway: gateway, minEdgeBps: minEdgeBps, advisor: advisor}
}

var _ Stage = (*MarketAnalyzer)(nil)

// Name implements Stage.
func (m *MarketAnalyzer) Name() string {
	return domain.StageMarketAnalysis
}

// Review quotes the trade in both directions and approves only when the
// round trip clears the minimum edge.
func (m *MarketAnalyzer) Review(ctx context.Context, a *Assessment) (*Verdict, error) {
	order := a.Order
	if order.AmountIn <= 0 {
		return m.reject(ctx, a, fmt.Sprintf("non-positive trade amount %d", order.AmountIn)), nil
	}

	tradable, err := m.gateway.Tradable(ctx, order.InputMint, order.OutputMint)
	if err != nil {
		if transientGatewayError(err) {
			return m.reject(ctx, a, fmt.Sprintf("tradability probe failed: %v", err)), nil
		}
		return nil, fmt.Errorf("tradability probe: %w", err)
	}
	if !tradable {
		return m.reject(ctx, a, fmt.Sprintf("pair %s -> %s has no route on the venue",
			order.InputMint, order.OutputMint)), nil
	}

	forward, err := m.gateway.Quote(ctx, order.InputMint, order.OutputMint, order.AmountIn)
	if err != nil {
		if transientGatewayError(err) {
			return m.reject(ctx, a, fmt.Sprintf("no viable route: %v", err)), nil
		}
		return nil, fmt.Errorf("forward quote: %w", err)
	}

	back, err := m.gateway.Quote(ctx, order.OutputMint, order.InputMint, forward.ExpectedOut)
	if err != nil {
		if transientGatewayError(err) {
			return m.reject(ctx, a, fmt.Sprintf("no return route: %v", err)), nil
		}
		return nil, fmt.Errorf("return quote: %w", err)
	}

	edge := back.ExpectedOut - order.AmountIn
	edgeBps := edge * 10_000 / order.AmountIn
	threshold := order.AmountIn * m.minEdgeBps / 10_000

	if edge <= threshold {
		return m.reject(ctx, a, fmt.Sprintf(
			"round-trip edge %d bps below minimum %d bps", edgeBps, m.minEdgeBps)), nil
	}

	a.Quote = forward
	a.EdgeBps = edgeBps

	verdict := &Verdict{
		Approve:         true,
		Rationale:       fmt.Sprintf("round-trip edge %d bps clears minimum %d bps", edgeBps, m.minEdgeBps),
		ExpectedOut:     forward.ExpectedOut,
		ExpectedEdgeBps: edgeBps,
		PriceImpactBps:  forward.PriceImpactBps,
	}
	verdict.Rationale = m.advisor.Annotate(ctx, m.Name(), verdict.Rationale, a)
	return verdict, nil
}

func (m *MarketAnalyzer) reject(ctx context.Context, a *Assessment, reason string) *Verdict {
	return &Verdict{
		Approve:   false,
		Rationale: m.advisor.Annotate(ctx, m.Name(), reason, a),
	}
}
