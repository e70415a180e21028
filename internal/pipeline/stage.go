// Package pipeline runs trade orders through the three-stage approval
// chain: market analysis, risk review, execution review. Stages run in a
// fixed order and the first rejection stops the chain.
package pipeline

import (
	"context"
	"errors"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
)

// Assessment carries the order under review plus the facts accumulated by
// earlier stages. Later stages read what earlier stages wrote.
type Assessment struct {
	Agent *domain.Agent
	Order *domain.TradeOrder

	// Portfolio is the lamport value the agent currently manages.
	Portfolio int64

	// Set by the market analysis stage.
	Quote   *exchange.QuoteResult
	EdgeBps int64

	// Set by the execution review stage.
	Simulation *exchange.SimulationResult
}

// Verdict is a single stage's judgement on an assessment.
type Verdict struct {
	Approve   bool
	Rationale string

	// Figures backing the judgement; zero where a stage has no opinion.
	ExpectedOut         int64
	ExpectedEdgeBps     int64
	MaxPositionLamports int64
	PriceImpactBps      int64
}

// transientGatewayError reports venue-side failures that reject the
// trade for this cycle rather than abort the pipeline: a pair with no
// quote, a book too thin for the size, or a timed-out venue. Anything
// else is a stage error.
func transientGatewayError(err error) bool {
	return errors.Is(err, exchange.ErrQuoteUnavailable) ||
		errors.Is(err, exchange.ErrLiquidityInsufficient) ||
		errors.Is(err, exchange.ErrNetworkTimeout)
}

// Stage reviews an assessment and passes judgement.
type Stage interface {
	// Name returns the stage identifier recorded with each decision.
	Name() string

	// Review inspects the assessment and may enrich it for later stages.
	// A rejection is a verdict, not an error; errors mean the stage
	// could not reach a judgement at all.
	Review(ctx context.Context, a *Assessment) (*Verdict, error)
}
