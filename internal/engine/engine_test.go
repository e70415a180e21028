package engine

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
	"agent-engine/internal/exchange/stub"
	"agent-engine/internal/pipeline"
	"agent-engine/internal/settlement"
	"agent-engine/internal/storage"
	"agent-engine/internal/storage/memory"
	"agent-engine/internal/txbuilder"
	"agent-engine/internal/vault"
)

const (
	mintSOL = "So11111111111111111111111111111111111111112"
	mintUSD = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fixedBlockhash string

func (f fixedBlockhash) LatestBlockhash(context.Context) (string, error) {
	return string(f), nil
}

type fixedSignal TradeSignal

func (s *fixedSignal) Propose(context.Context, *domain.Agent, int64) (*TradeSignal, error) {
	return (*TradeSignal)(s), nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []*ActivityEvent
}

func (n *captureNotifier) Broadcast(event *ActivityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

type testHarness struct {
	engine   *Engine
	gateway  *stub.Gateway
	agents   *memory.AgentStore
	orders   *memory.OrderStore
	revenue  *memory.RevenueStore
	notifier *captureNotifier
	vault    *vault.Vault
}

func newHarness(t *testing.T, signal SignalSource) *testHarness {
	t.Helper()

	v, err := vault.New(bytes.Repeat([]byte{7}, vault.MinMasterKeyLength))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	gw := stub.NewGateway()
	gw.SetRate(mintSOL, mintUSD, 10_100)
	gw.SetRate(mintUSD, mintSOL, 10_100)

	agents := memory.NewAgentStore()
	orders := memory.NewOrderStore()
	decisions := memory.NewDecisionStore()
	revenue := memory.NewRevenueStore()
	claims := memory.NewClaimStore()
	analytics := memory.NewAnalyticsStore()

	logger := log.New(io.Discard, "", 0)
	builder := txbuilder.NewBuilder(v, fixedBlockhash("AvN5Pk9rjNDYqrU7QyS8uv7Yaw3N8XmAsNjFBB9RbJvS"))
	runner := pipeline.NewRunner(decisions, logger, pipeline.DefaultStages(gw, 0, 0, nil)...)
	notifier := &captureNotifier{}

	eng := New(Config{
		Agents:          agents,
		Orders:          orders,
		Analytics:       analytics,
		Ledger:          settlement.NewLedger(revenue, claims),
		Runner:          runner,
		Gateway:         gw,
		Builder:         builder,
		Vault:           v,
		Signal:          signal,
		Notifier:        notifier,
		Logger:          logger,
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
	})

	return &testHarness{
		engine:   eng,
		gateway:  gw,
		agents:   agents,
		orders:   orders,
		revenue:  revenue,
		notifier: notifier,
		vault:    v,
	}
}

func (h *testHarness) createAgent(t *testing.T) *domain.Agent {
	t.Helper()

	creator, err := vault.GenerateKeypair()
	if err != nil {
		t.Fatalf("creator keypair: %v", err)
	}
	defer creator.Zero()

	result, err := h.engine.CreateAgent(context.Background(), CreateAgentParams{
		Name:            "alpha",
		Creator:         creator.PublicKey,
		RiskTolerance:   5,
		CycleIntervalMs: 60_000,
		TokenDecimals:   9,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	// Fund the agent so fallback portfolio valuation is non-zero.
	result.Agent.FundingLamports = 10 * domain.LamportsPerSOL
	if err := h.agents.Update(context.Background(), result.Agent); err != nil {
		t.Fatalf("fund agent: %v", err)
	}
	return result.Agent
}

func TestCreateAgent(t *testing.T) {
	h := newHarness(t, nil)

	creator, err := vault.GenerateKeypair()
	if err != nil {
		t.Fatalf("creator keypair: %v", err)
	}
	defer creator.Zero()

	result, err := h.engine.CreateAgent(context.Background(), CreateAgentParams{
		Name:          "alpha",
		Creator:       creator.PublicKey,
		RiskTolerance: 5,
		TokenDecimals: 9,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	if result.MintPublicKey == "" || result.Agent.TokenMint != result.MintPublicKey {
		t.Fatalf("mint not recorded: result %q, agent %q", result.MintPublicKey, result.Agent.TokenMint)
	}
	if result.CreationTransaction == "" {
		t.Fatal("expected serialized creation transaction")
	}

	stored, err := h.agents.GetByID(context.Background(), result.Agent.AgentID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Wallet != result.Agent.Wallet {
		t.Fatalf("stored wallet = %s, want %s", stored.Wallet, result.Agent.Wallet)
	}

	// The sealed key must open to a usable signing key.
	err = h.vault.WithSigningKey(stored.EncryptedKey, func(key ed25519.PrivateKey) error {
		if len(key) != ed25519.PrivateKeySize {
			return fmt.Errorf("key length %d", len(key))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stored key unusable: %v", err)
	}
}

func TestCreateAgent_RejectsBadParams(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.engine.CreateAgent(context.Background(), CreateAgentParams{
		Name: "x", Creator: "not-an-address", RiskTolerance: 5,
	}); err == nil {
		t.Fatal("expected invalid creator rejection")
	}
	if _, err := h.engine.CreateAgent(context.Background(), CreateAgentParams{
		Name: "x", Creator: mintSOL, RiskTolerance: 0,
	}); err == nil {
		t.Fatal("expected tolerance rejection")
	}
}

func TestRunCycle_ExecutesAndSettles(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 100,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	order, err := h.engine.RunCycle(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if order.Status != domain.OrderStatusExecuted {
		t.Fatalf("status = %s (%s: %s)", order.Status, order.RejectStage, order.RejectReason)
	}
	if order.TxSignature == "" || order.CompletedAt == 0 {
		t.Fatal("executed order missing signature or completion time")
	}

	// 1 SOL in at 101% rate: profit 0.01 SOL, fee 1%, rest to holders.
	wantProfit := int64(10_000_000)
	if got := order.Profit(); got != wantProfit {
		t.Fatalf("profit = %d, want %d", got, wantProfit)
	}

	pool, err := h.revenue.Pool(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Accumulator != wantProfit-wantProfit/100 {
		t.Fatalf("accumulator = %d, want %d", pool.Accumulator, wantProfit-wantProfit/100)
	}
	treasury, err := h.revenue.Treasury(context.Background())
	if err != nil {
		t.Fatalf("Treasury: %v", err)
	}
	if treasury != wantProfit/100 {
		t.Fatalf("treasury = %d, want %d", treasury, wantProfit/100)
	}

	kinds := h.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != ActivityOrderExecuted {
		t.Fatalf("activity = %v", kinds)
	}
}

func TestRunCycle_RejectionRecordsStage(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 100 * domain.LamportsPerSOL, SlippageBps: 100, // far beyond cap
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	order, err := h.engine.RunCycle(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Fatalf("status = %s", order.Status)
	}
	if order.RejectStage != domain.StageRiskReview || order.RejectReason == "" {
		t.Fatalf("reject stage = %q reason = %q", order.RejectStage, order.RejectReason)
	}
	if got := h.gateway.SwapCalls(); got != 0 {
		t.Fatalf("swap called %d times for rejected order", got)
	}

	kinds := h.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != ActivityOrderRejected {
		t.Fatalf("activity = %v", kinds)
	}
}

func TestRunCycle_DisabledAgent(t *testing.T) {
	h := newHarness(t, &fixedSignal{InputMint: mintSOL, OutputMint: mintUSD, AmountIn: 1, SlippageBps: 100})
	agent := h.createAgent(t)

	agent.Disabled = true
	if err := h.agents.Update(context.Background(), agent); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := h.engine.RunCycle(context.Background(), agent.AgentID); !errors.Is(err, ErrAgentDisabled) {
		t.Fatalf("err = %v, want ErrAgentDisabled", err)
	}
}

func TestRunCycle_ZeroAmountSignalRefused(t *testing.T) {
	h := newHarness(t, &fixedSignal{InputMint: mintSOL, OutputMint: mintUSD, AmountIn: 0, SlippageBps: 100})
	agent := h.createAgent(t)

	if _, err := h.engine.RunCycle(context.Background(), agent.AgentID); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	// Nothing was recorded for the refused signal.
	orders, err := h.orders.GetByAgent(context.Background(), agent.AgentID, 0)
	if err != nil {
		t.Fatalf("GetByAgent: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}
}

func TestRunCycle_PipelineErrorFailsOrder(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 100,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	// A non-transient venue failure aborts the pipeline; the order must
	// still reach a terminal state.
	h.gateway.FailSimulateWith(errors.New("aggregator returned 500"))

	if _, err := h.engine.RunCycle(context.Background(), agent.AgentID); err == nil {
		t.Fatal("expected pipeline error")
	}

	orders, err := h.orders.GetByAgent(context.Background(), agent.AgentID, 0)
	if err != nil {
		t.Fatalf("GetByAgent: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Status != domain.OrderStatusFailed {
		t.Fatalf("status = %s, want %s", orders[0].Status, domain.OrderStatusFailed)
	}
	if orders[0].CompletedAt == 0 {
		t.Fatal("failed order missing completion time")
	}
	if got := h.gateway.SwapCalls(); got != 0 {
		t.Fatalf("swap called %d times after pipeline error", got)
	}

	kinds := h.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != ActivityOrderFailed {
		t.Fatalf("activity = %v", kinds)
	}
}

func TestRunCycle_SimulateTimeoutRejectsOrder(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 100,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	h.gateway.FailSimulateWith(exchange.ErrNetworkTimeout)

	order, err := h.engine.RunCycle(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("a venue timeout must end the cycle cleanly: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Fatalf("status = %s, want %s", order.Status, domain.OrderStatusRejected)
	}
	if order.RejectStage != domain.StageExecutionReview {
		t.Fatalf("reject stage = %s, want %s", order.RejectStage, domain.StageExecutionReview)
	}
	if got := h.gateway.SwapCalls(); got != 0 {
		t.Fatalf("swap called %d times for rejected order", got)
	}
}

func TestExecute_AmbiguousSwapResolvedWithoutResubmission(t *testing.T) {
	h := newHarness(t, nil)
	agent := h.createAgent(t)

	order := &domain.TradeOrder{
		OrderID: "order-ambiguous", AgentID: agent.AgentID,
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: domain.LamportsPerSOL, SlippageBps: 100,
		Status: domain.OrderStatusApproved,
	}

	h.gateway.FailSwapWith(fmt.Errorf("%w: connection reset", exchange.ErrAmbiguousSwapState))
	h.gateway.StashReceipt(order.OrderID, &exchange.SwapReceipt{
		TxSignature: "sig-recovered",
		RealizedIn:  domain.LamportsPerSOL,
		RealizedOut: domain.LamportsPerSOL + 5_000_000,
	}, 1)

	receipt, err := h.engine.execute(context.Background(), agent, order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.TxSignature != "sig-recovered" {
		t.Fatalf("signature = %s", receipt.TxSignature)
	}
	if got := h.gateway.SwapCalls(); got != 1 {
		t.Fatalf("swap submitted %d times, must be exactly once", got)
	}
}

func TestExecute_UnresolvedSwapFails(t *testing.T) {
	h := newHarness(t, nil)
	agent := h.createAgent(t)

	order := &domain.TradeOrder{
		OrderID: "order-lost", AgentID: agent.AgentID,
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: domain.LamportsPerSOL, SlippageBps: 100,
		Status: domain.OrderStatusApproved,
	}
	h.gateway.FailSwapWith(fmt.Errorf("%w: connection reset", exchange.ErrAmbiguousSwapState))

	if _, err := h.engine.execute(context.Background(), agent, order); err == nil {
		t.Fatal("expected unresolved swap failure")
	}
	if got := h.gateway.SwapCalls(); got != 1 {
		t.Fatalf("swap submitted %d times, must be exactly once", got)
	}
}

func TestRunCycle_LossSettlesNothing(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 500,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	// Positive round-trip edge so the analyzer approves, but a losing
	// realized rate on the forward leg.
	h.gateway.SetRate(mintSOL, mintUSD, 9_800)
	h.gateway.SetRate(mintUSD, mintSOL, 10_600)

	order, err := h.engine.RunCycle(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if order.Status != domain.OrderStatusExecuted {
		t.Fatalf("status = %s (%s: %s)", order.Status, order.RejectStage, order.RejectReason)
	}
	if order.Profit() >= 0 {
		t.Fatalf("profit = %d, want loss", order.Profit())
	}

	pool, err := h.revenue.Pool(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Accumulator != 0 {
		t.Fatalf("loss must not grow the pool, accumulator = %d", pool.Accumulator)
	}
	treasury, err := h.revenue.Treasury(context.Background())
	if err != nil {
		t.Fatalf("Treasury: %v", err)
	}
	if treasury != 0 {
		t.Fatalf("loss must not grow the treasury, got %d", treasury)
	}
}

func TestPortfolio_FallbackValuation(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 100,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	if _, err := h.engine.RunCycle(context.Background(), agent.AgentID); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	view, err := h.engine.Portfolio(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if view.ExecutedTrades != 1 {
		t.Fatalf("executed trades = %d", view.ExecutedTrades)
	}
	if view.RealizedPnL != 10_000_000 {
		t.Fatalf("pnl = %d", view.RealizedPnL)
	}
	if view.ValueLamports != agent.FundingLamports+view.RealizedPnL {
		t.Fatalf("value = %d, want funding %d + pnl %d", view.ValueLamports, agent.FundingLamports, view.RealizedPnL)
	}
	if view.UnclaimedRevenue != 9_900_000 {
		t.Fatalf("unclaimed = %d", view.UnclaimedRevenue)
	}
}

func TestRiskStatus(t *testing.T) {
	h := newHarness(t, nil)
	agent := h.createAgent(t)

	status, err := h.engine.RiskStatus(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("RiskStatus: %v", err)
	}
	if status.PortfolioLamports != 10*domain.LamportsPerSOL {
		t.Fatalf("portfolio = %d", status.PortfolioLamports)
	}
	// Tolerance 5 of 10 maps to a quarter of the portfolio.
	if status.PositionCapLamports != 10*domain.LamportsPerSOL*5/20 {
		t.Fatalf("cap = %d", status.PositionCapLamports)
	}
	if len(status.Warnings) != 0 {
		t.Fatalf("warnings = %v", status.Warnings)
	}

	agent.RiskBreached = true
	if err := h.agents.Update(context.Background(), agent); err != nil {
		t.Fatalf("Update: %v", err)
	}
	status, err = h.engine.RiskStatus(context.Background(), agent.AgentID)
	if err != nil {
		t.Fatalf("RiskStatus: %v", err)
	}
	if !status.RiskBreached || len(status.Warnings) == 0 {
		t.Fatalf("breach not surfaced: %+v", status)
	}
}

func TestClaimRevenue(t *testing.T) {
	signal := &fixedSignal{
		InputMint: mintSOL, OutputMint: mintUSD,
		AmountIn: 1 * domain.LamportsPerSOL, SlippageBps: 100,
	}
	h := newHarness(t, signal)
	agent := h.createAgent(t)

	if _, err := h.engine.RunCycle(context.Background(), agent.AgentID); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	h.engine.chain = &stubChain{
		supplies: map[string]int64{agent.TokenMint: 10_000},
		balances: map[string]int64{"holder-1": 1_000},
	}

	// Pool is 9_900_000; a tenth of supply claims a tenth of the pool.
	amount, err := h.engine.ClaimRevenue(context.Background(), "holder-1", agent.AgentID)
	if err != nil {
		t.Fatalf("ClaimRevenue: %v", err)
	}
	if amount != 990_000 {
		t.Fatalf("claim = %d, want 990000", amount)
	}

	// Nothing new accrued; a second claim yields zero.
	amount, err = h.engine.ClaimRevenue(context.Background(), "holder-1", agent.AgentID)
	if err != nil {
		t.Fatalf("second ClaimRevenue: %v", err)
	}
	if amount != 0 {
		t.Fatalf("second claim = %d, want 0", amount)
	}
}

func TestOrderHistory_UnknownAgent(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.engine.OrderHistory(context.Background(), "nobody", 10); err == nil {
		t.Fatal("expected unknown agent error")
	}
}

type stubChain struct {
	supplies map[string]int64
	balances map[string]int64
}

func (c *stubChain) LatestBlockhash(context.Context) (string, error) {
	return "AvN5Pk9rjNDYqrU7QyS8uv7Yaw3N8XmAsNjFBB9RbJvS", nil
}

func (c *stubChain) Balance(_ context.Context, wallet string) (int64, error) {
	return c.balances[wallet], nil
}

func (c *stubChain) TokenSupply(_ context.Context, mint string) (int64, error) {
	return c.supplies[mint], nil
}

func (c *stubChain) TokenBalance(_ context.Context, owner, _ string) (int64, error) {
	return c.balances[owner], nil
}
