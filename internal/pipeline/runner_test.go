package pipeline

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
	"agent-engine/internal/exchange/stub"
	"agent-engine/internal/storage/memory"
)

const (
	mintSOL = "So11111111111111111111111111111111111111112"
	mintUSD = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func testAgent() *domain.Agent {
	return &domain.Agent{
		AgentID:          "agent-1",
		Name:             "alpha",
		Wallet:           "wallet-1",
		RiskTolerance:    5,
		MaxTradeLamports: 10 * domain.LamportsPerSOL,
	}
}

func testOrder(amountIn int64) *domain.TradeOrder {
	return &domain.TradeOrder{
		OrderID:     "order-1",
		AgentID:     "agent-1",
		InputMint:   mintSOL,
		OutputMint:  mintUSD,
		AmountIn:    amountIn,
		SlippageBps: 100,
		Status:      domain.OrderStatusPending,
	}
}

func newTestRunner(gw *stub.Gateway, decisions *memory.DecisionStore) *Runner {
	logger := log.New(io.Discard, "", 0)
	return NewRunner(decisions, logger, DefaultStages(gw, 0, 0, nil)...)
}

func TestRun_AllStagesApprove(t *testing.T) {
	gw := stub.NewGateway()
	// Forward 1 SOL -> 10_100 out, back -> 1.0201 SOL: ~201 bps edge.
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	order := testOrder(1 * domain.LamportsPerSOL)
	out, err := runner.Run(context.Background(), testAgent(), order, 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Approved {
		t.Fatalf("expected approval, rejected at %s: %s", out.RejectStage, out.RejectReason)
	}
	if out.Assessment.Quote == nil || out.Assessment.Simulation == nil {
		t.Fatal("approved outcome must carry quote and simulation")
	}

	persisted, err := decisions.GetByOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if len(persisted) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(persisted))
	}
	wantStages := []string{domain.StageMarketAnalysis, domain.StageRiskReview, domain.StageExecutionReview}
	for i, d := range persisted {
		if d.Stage != wantStages[i] {
			t.Errorf("decision %d: stage = %s, want %s", i, d.Stage, wantStages[i])
		}
		if d.Seq != i+1 {
			t.Errorf("decision %d: seq = %d, want %d", i, d.Seq, i+1)
		}
		if d.Verdict != domain.VerdictApprove {
			t.Errorf("decision %d: verdict = %s, want approve", i, d.Verdict)
		}
	}
}

func TestRun_MarketRejectsUnroutablePair(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetUnroutable(mintSOL, mintUSD)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected rejection")
	}
	if out.RejectStage != domain.StageMarketAnalysis {
		t.Fatalf("reject stage = %s, want %s", out.RejectStage, domain.StageMarketAnalysis)
	}

	persisted, err := decisions.GetByOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(persisted))
	}
	if persisted[0].Verdict != domain.VerdictReject {
		t.Fatalf("verdict = %s, want reject", persisted[0].Verdict)
	}
}

func TestRun_MarketRejectsThinEdge(t *testing.T) {
	gw := stub.NewGateway()
	// Round trip: 1 SOL -> out -> 1.0001 SOL, only 1 bps edge.
	gw.SetRate(mintSOL, mintUSD, 10_000)
	gw.SetRate(mintUSD, mintSOL, 10_001)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected rejection on thin edge")
	}
	if out.RejectStage != domain.StageMarketAnalysis {
		t.Fatalf("reject stage = %s", out.RejectStage)
	}
	if !strings.Contains(out.RejectReason, "edge") {
		t.Fatalf("reason should mention edge: %q", out.RejectReason)
	}
}

func TestRun_RiskRejectStopsBeforeSimulation(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	agent := testAgent()
	agent.RiskTolerance = 1 // cap = portfolio / 20

	portfolio := int64(10 * domain.LamportsPerSOL)
	order := testOrder(1 * domain.LamportsPerSOL) // cap is 0.5 SOL

	out, err := runner.Run(context.Background(), agent, order, portfolio)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected risk rejection")
	}
	if out.RejectStage != domain.StageRiskReview {
		t.Fatalf("reject stage = %s, want %s", out.RejectStage, domain.StageRiskReview)
	}

	persisted, err := decisions.GetByOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(persisted))
	}
	if got := gw.SimulateCalls(); got != 0 {
		t.Fatalf("simulation ran %d times after risk rejection", got)
	}
	if persisted[1].MaxPositionLamports != domain.LamportsPerSOL/2 {
		t.Fatalf("recorded cap = %d, want %d", persisted[1].MaxPositionLamports, domain.LamportsPerSOL/2)
	}
}

func TestRun_RiskBreachedAgentRejected(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	agent := testAgent()
	agent.RiskBreached = true

	out, err := runner.Run(context.Background(), agent, testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("breached agent must not trade")
	}
	if out.RejectStage != domain.StageRiskReview {
		t.Fatalf("reject stage = %s", out.RejectStage)
	}
	if got := gw.SimulateCalls(); got != 0 {
		t.Fatalf("simulation ran %d times for breached agent", got)
	}
}

func TestRun_ExecutionRejectsInfeasibleSimulation(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)
	gw.FailSimulation(mintSOL, mintUSD, "account would exceed rent exemption")

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected execution rejection")
	}
	if out.RejectStage != domain.StageExecutionReview {
		t.Fatalf("reject stage = %s", out.RejectStage)
	}
	if !strings.Contains(out.RejectReason, "rent exemption") {
		t.Fatalf("reason should carry the simulator message: %q", out.RejectReason)
	}
}

func TestRun_ExecutionRejectsExcessiveImpact(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)
	gw.SetImpact(mintSOL, mintUSD, 450)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected impact rejection")
	}
	if out.RejectStage != domain.StageExecutionReview {
		t.Fatalf("reject stage = %s", out.RejectStage)
	}

	persisted, err := decisions.GetByOrder(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if persisted[2].PriceImpactBps != 450 {
		t.Fatalf("recorded impact = %d, want 450", persisted[2].PriceImpactBps)
	}
}

func TestPositionCap(t *testing.T) {
	tests := []struct {
		name      string
		tolerance int
		hardCap   int64
		portfolio int64
		want      int64
	}{
		{"conservative", 1, 0, 20 * domain.LamportsPerSOL, domain.LamportsPerSOL},
		{"aggressive", 10, 0, 20 * domain.LamportsPerSOL, 10 * domain.LamportsPerSOL},
		{"hard cap clamps", 10, 2 * domain.LamportsPerSOL, 20 * domain.LamportsPerSOL, 2 * domain.LamportsPerSOL},
		{"hard cap above fraction", 5, 100 * domain.LamportsPerSOL, 20 * domain.LamportsPerSOL, 5 * domain.LamportsPerSOL},
		{"empty portfolio", 10, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &domain.Agent{RiskTolerance: tt.tolerance, MaxTradeLamports: tt.hardCap}
			if got := PositionCap(agent, tt.portfolio); got != tt.want {
				t.Fatalf("PositionCap = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_SlippageFloorRejection(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	decisions := memory.NewDecisionStore()
	_ = newTestRunner(gw, decisions)

	// Degrade the rate between quoting and simulation by swapping the
	// stage order: quote first at the good rate, then worsen it.
	order := testOrder(domain.LamportsPerSOL)
	order.SlippageBps = 10

	a := &Assessment{Agent: testAgent(), Order: order, Portfolio: 10 * domain.LamportsPerSOL}
	analyzer := NewMarketAnalyzer(gw, 0, nil)
	if _, err := analyzer.Review(context.Background(), a); err != nil {
		t.Fatalf("analyzer: %v", err)
	}

	gw.SetRate(mintSOL, mintUSD, 9_900) // 2% worse than quoted

	optimizer := NewExecutionOptimizer(gw, 0)
	verdict, err := optimizer.Review(context.Background(), a)
	if err != nil {
		t.Fatalf("optimizer: %v", err)
	}
	if verdict.Approve {
		t.Fatal("expected slippage floor rejection")
	}
	if !strings.Contains(verdict.Rationale, "slippage floor") {
		t.Fatalf("rationale = %q", verdict.Rationale)
	}
}

func TestRun_QuoteTimeoutRejectsNotErrors(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)
	gw.FailQuoteWith(exchange.ErrNetworkTimeout)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(domain.LamportsPerSOL), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("a venue timeout must reject, not error: %v", err)
	}
	if out.Approved {
		t.Fatal("expected rejection")
	}
	if out.RejectStage != domain.StageMarketAnalysis {
		t.Fatalf("reject stage = %s, want %s", out.RejectStage, domain.StageMarketAnalysis)
	}
}

func TestRun_SimulateTimeoutRejectsNotErrors(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)
	gw.FailSimulateWith(exchange.ErrNetworkTimeout)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	order := testOrder(domain.LamportsPerSOL)
	out, err := runner.Run(context.Background(), testAgent(), order, 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("a venue timeout must reject, not error: %v", err)
	}
	if out.Approved {
		t.Fatal("expected rejection")
	}
	if out.RejectStage != domain.StageExecutionReview {
		t.Fatalf("reject stage = %s, want %s", out.RejectStage, domain.StageExecutionReview)
	}

	// Earlier stages approved; the timeout verdict is still persisted.
	persisted, err := decisions.GetByOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if len(persisted) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(persisted))
	}
	if persisted[2].Verdict != domain.VerdictReject {
		t.Fatalf("final verdict = %s, want reject", persisted[2].Verdict)
	}
}

func TestRun_NonPositiveAmountRejects(t *testing.T) {
	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	decisions := memory.NewDecisionStore()
	runner := newTestRunner(gw, decisions)

	out, err := runner.Run(context.Background(), testAgent(), testOrder(0), 10*domain.LamportsPerSOL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Approved {
		t.Fatal("expected rejection")
	}
	if out.RejectStage != domain.StageMarketAnalysis {
		t.Fatalf("reject stage = %s, want %s", out.RejectStage, domain.StageMarketAnalysis)
	}
}

func TestAdvisor_NilAnnotatesPassthrough(t *testing.T) {
	var advisor *Advisor
	got := advisor.Annotate(context.Background(), domain.StageMarketAnalysis, "edge clears minimum", nil)
	if got != "edge clears minimum" {
		t.Fatalf("nil advisor must pass rationale through, got %q", got)
	}
}

func TestNewAdvisor_EmptyKeyDisabled(t *testing.T) {
	if NewAdvisor("", "") != nil {
		t.Fatal("empty API key must disable the advisor")
	}
}
