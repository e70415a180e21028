package domain

// StageDecision is the append-only record produced by one approval stage
// for one order. The decisions for an order form an ordered sequence; a
// rejected order has fewer than three because later stages never run.
type StageDecision struct {
	DecisionID string // uuid
	OrderID    string
	AgentID    string

	Stage   string // see Stage* constants
	Seq     int    // 1-based position in the pipeline
	Verdict string // VerdictApprove or VerdictReject

	Rationale string // human-readable reasoning

	// Numeric parameters; meaning depends on stage.
	ExpectedOut         int64 // market analysis: best expected output, smallest unit
	ExpectedEdgeBps     int64 // market analysis: expected round-trip edge
	MaxPositionLamports int64 // risk review: computed position cap
	PriceImpactBps      int64 // execution review: simulated price impact

	CreatedAt int64 // ms
}

// Pipeline stage names, in execution order.
const (
	StageMarketAnalysis  = "MARKET_ANALYSIS"
	StageRiskReview      = "RISK_REVIEW"
	StageExecutionReview = "EXECUTION_REVIEW"
)

// Stage verdicts.
const (
	VerdictApprove = "APPROVE"
	VerdictReject  = "REJECT"
)
