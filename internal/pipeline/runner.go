package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
	"agent-engine/internal/storage"
)

// Outcome is the result of running an order through the full chain.
type Outcome struct {
	Approved bool

	// RejectStage and RejectReason identify the first rejecting stage.
	// Empty when Approved.
	RejectStage  string
	RejectReason string

	// Assessment holds the facts accumulated by the stages that ran,
	// including the winning quote and simulation when approved.
	Assessment *Assessment

	// Decisions in stage order, one per stage that ran.
	Decisions []*domain.StageDecision
}

// Runner drives an order through the configured stages in sequence,
// persisting one decision record per stage. The first rejection stops
// the chain; later stages never run.
type Runner struct {
	stages    []Stage
	decisions storage.DecisionStore
	logger    *log.Logger
}

// NewRunner creates a Runner over the given stages. The stage order is
// the review order.
func NewRunner(decisions storage.DecisionStore, logger *log.Logger, stages ...Stage) *Runner {
	return &Runner{stages: stages, decisions: decisions, logger: logger}
}

// DefaultStages builds the standard three-stage chain in review order.
func DefaultStages(gateway exchange.Gateway, minEdgeBps, maxImpactBps int64, advisor *Advisor) []Stage {
	return []Stage{
		NewMarketAnalyzer(gateway, minEdgeBps, advisor),
		NewRiskManager(),
		NewExecutionOptimizer(gateway, maxImpactBps),
	}
}

// Run reviews the order with every stage in sequence. Each verdict is
// persisted before the next stage runs, so a partially reviewed order
// leaves a faithful audit trail even if the process dies mid-chain.
func (r *Runner) Run(ctx context.Context, agent *domain.Agent, order *domain.TradeOrder, portfolio int64) (*Outcome, error) {
	a := &Assessment{Agent: agent, Order: order, Portfolio: portfolio}
	out := &Outcome{Assessment: a}

	for i, stage := range r.stages {
		verdict, err := stage.Review(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		decision := &domain.StageDecision{
			DecisionID:          uuid.NewString(),
			OrderID:             order.OrderID,
			AgentID:             agent.AgentID,
			Stage:               stage.Name(),
			Seq:                 i + 1,
			Rationale:           verdict.Rationale,
			ExpectedOut:         verdict.ExpectedOut,
			ExpectedEdgeBps:     verdict.ExpectedEdgeBps,
			MaxPositionLamports: verdict.MaxPositionLamports,
			PriceImpactBps:      verdict.PriceImpactBps,
			CreatedAt:           time.Now().UnixMilli(),
		}
		if verdict.Approve {
			decision.Verdict = domain.VerdictApprove
		} else {
			decision.Verdict = domain.VerdictReject
		}

		if err := r.decisions.Insert(ctx, decision); err != nil {
			return nil, fmt.Errorf("persist decision for stage %s: %w", stage.Name(), err)
		}
		out.Decisions = append(out.Decisions, decision)

		if !verdict.Approve {
			r.logger.Printf("order %s rejected at %s: %s", order.OrderID, stage.Name(), verdict.Rationale)
			out.Approved = false
			out.RejectStage = stage.Name()
			out.RejectReason = verdict.Rationale
			return out, nil
		}
	}

	out.Approved = true
	return out, nil
}
