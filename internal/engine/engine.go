// Package engine composes the vault, transaction builder, exchange
// gateway, approval pipeline, and settlement ledger into the operations
// the API and scheduler call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"agent-engine/internal/chain"
	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
	"agent-engine/internal/observability"
	"agent-engine/internal/pipeline"
	"agent-engine/internal/settlement"
	"agent-engine/internal/storage"
	"agent-engine/internal/txbuilder"
	"agent-engine/internal/vault"
)

// Reconciliation bounds for ambiguous swaps.
const (
	DefaultResolveAttempts = 5
	DefaultResolveDelay    = 2 * time.Second
)

// Engine errors.
var (
	ErrAgentDisabled = errors.New("engine: agent disabled")
	ErrNoTokenMint   = errors.New("engine: agent has no token mint")
	ErrNoSignal      = errors.New("engine: no trade signal this cycle")
)

// Config carries the engine's dependencies. Chain and Notifier are
// optional; Signal defaults to sitting every cycle out when nil.
type Config struct {
	Agents    storage.AgentStore
	Orders    storage.OrderStore
	Analytics storage.AnalyticsStore

	Ledger  *settlement.Ledger
	Runner  *pipeline.Runner
	Gateway exchange.Gateway
	Builder *txbuilder.Builder
	Vault   *vault.Vault

	// Chain reads balances and supplies. When nil the engine derives
	// portfolio value from funding plus realized trade flows.
	Chain chain.Client

	Signal   SignalSource
	Notifier Notifier

	Logger *log.Logger

	// ResolveAttempts/ResolveDelay bound the reconciliation loop for
	// ambiguous swaps. Zero selects the defaults.
	ResolveAttempts int
	ResolveDelay    time.Duration
}

// Engine executes trading cycles and serves the read-side views.
type Engine struct {
	agents    storage.AgentStore
	orders    storage.OrderStore
	analytics storage.AnalyticsStore

	ledger  *settlement.Ledger
	runner  *pipeline.Runner
	gateway exchange.Gateway
	builder *txbuilder.Builder
	vault   *vault.Vault
	chain   chain.Client

	signal   SignalSource
	notifier Notifier
	logger   *log.Logger

	resolveAttempts int
	resolveDelay    time.Duration
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = DefaultResolveAttempts
	}
	if cfg.ResolveDelay <= 0 {
		cfg.ResolveDelay = DefaultResolveDelay
	}
	return &Engine{
		agents:          cfg.Agents,
		orders:          cfg.Orders,
		analytics:       cfg.Analytics,
		ledger:          cfg.Ledger,
		runner:          cfg.Runner,
		gateway:         cfg.Gateway,
		builder:         cfg.Builder,
		vault:           cfg.Vault,
		chain:           cfg.Chain,
		signal:          cfg.Signal,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		resolveAttempts: cfg.ResolveAttempts,
		resolveDelay:    cfg.ResolveDelay,
	}
}

// CreateAgentParams describes a new agent registration.
type CreateAgentParams struct {
	Name    string
	Creator string // creator wallet, base58; signs the creation client-side

	RiskTolerance    int
	MaxTradeLamports int64
	CycleIntervalMs  int64
	TokenDecimals    uint8
}

// CreateAgentResult is the registration outcome. The creation
// transaction is partially signed and awaits the creator's signature.
type CreateAgentResult struct {
	Agent               *domain.Agent
	CreationTransaction string // serialized, base64
	MintPublicKey       string
}

// CreateAgent registers a new agent: generates its custodial wallet,
// seals the secret in the vault, and assembles the token mint creation
// transaction for the creator to complete.
func (e *Engine) CreateAgent(ctx context.Context, params CreateAgentParams) (*CreateAgentResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%w: empty name", storage.ErrInvalidInput)
	}
	if params.RiskTolerance < domain.MinRiskTolerance || params.RiskTolerance > domain.MaxRiskTolerance {
		return nil, fmt.Errorf("%w: risk tolerance %d outside [%d, %d]",
			storage.ErrInvalidInput, params.RiskTolerance, domain.MinRiskTolerance, domain.MaxRiskTolerance)
	}
	if !vault.ValidAddress(params.Creator) {
		return nil, fmt.Errorf("%w: creator address %q", storage.ErrInvalidInput, params.Creator)
	}

	wallet, err := vault.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate agent wallet: %w", err)
	}
	defer wallet.Zero()

	encrypted, err := e.vault.Encrypt(wallet.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt agent key: %w", err)
	}

	creation, err := e.builder.BuildCreation(ctx, txbuilder.CreationParams{
		Creator:     params.Creator,
		AgentWallet: wallet.PublicKey,
		Decimals:    params.TokenDecimals,
	})
	if err != nil {
		return nil, fmt.Errorf("build creation transaction: %w", err)
	}

	serialized, err := creation.Transaction.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize creation transaction: %w", err)
	}

	now := time.Now().UnixMilli()
	agent := &domain.Agent{
		AgentID:          uuid.NewString(),
		Name:             params.Name,
		Creator:          params.Creator,
		Wallet:           wallet.PublicKey,
		EncryptedKey:     encrypted,
		TokenMint:        creation.MintPublicKey,
		RiskTolerance:    params.RiskTolerance,
		MaxTradeLamports: params.MaxTradeLamports,
		CycleIntervalMs:  params.CycleIntervalMs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.agents.Insert(ctx, agent); err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}

	e.logger.Printf("created agent %s (%s) wallet %s mint %s",
		agent.AgentID, agent.Name, agent.Wallet, agent.TokenMint)

	return &CreateAgentResult{
		Agent:               agent,
		CreationTransaction: serialized,
		MintPublicKey:       creation.MintPublicKey,
	}, nil
}

// RunCycle runs one full trading cycle for the agent: propose a trade,
// review it through the pipeline, and execute and settle on approval.
// Returns the terminal order, or (nil, nil) when the signal source has
// nothing to propose.
func (e *Engine) RunCycle(ctx context.Context, agentID string) (*domain.TradeOrder, error) {
	started := time.Now()

	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrAgentDisabled, agentID)
	}

	portfolio, err := e.portfolioLamports(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("portfolio value: %w", err)
	}

	if e.signal == nil {
		return nil, nil
	}
	signal, err := e.signal.Propose(ctx, agent, portfolio)
	if err != nil {
		return nil, fmt.Errorf("propose trade: %w", err)
	}
	if signal == nil {
		return nil, nil
	}
	if signal.AmountIn <= 0 {
		return nil, fmt.Errorf("%w: signal amount %d for agent %s",
			storage.ErrInvalidInput, signal.AmountIn, agentID)
	}

	order := &domain.TradeOrder{
		OrderID:     uuid.NewString(),
		AgentID:     agent.AgentID,
		InputMint:   signal.InputMint,
		OutputMint:  signal.OutputMint,
		AmountIn:    signal.AmountIn,
		SlippageBps: signal.SlippageBps,
		Status:      domain.OrderStatusPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := e.orders.Insert(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	outcome, err := e.runner.Run(ctx, agent, order, portfolio)
	if err != nil {
		// The order must not strand in PENDING: a pipeline that could not
		// reach a judgement fails the order closed.
		order.Status = domain.OrderStatusFailed
		order.CompletedAt = time.Now().UnixMilli()
		if uerr := e.orders.Update(ctx, order); uerr != nil {
			e.logger.Printf("order %s: update after pipeline error failed: %v", order.OrderID, uerr)
		}
		observability.RecordOrderFinished(order.Status, time.Since(started).Seconds())
		e.broadcast(failedEvent(order))
		return nil, fmt.Errorf("run pipeline: %w", err)
	}
	for _, d := range outcome.Decisions {
		observability.RecordStageVerdict(d.Stage, d.Verdict)
	}

	if !outcome.Approved {
		order.Status = domain.OrderStatusRejected
		order.RejectStage = outcome.RejectStage
		order.RejectReason = outcome.RejectReason
		order.CompletedAt = time.Now().UnixMilli()
		if err := e.orders.Update(ctx, order); err != nil {
			return nil, fmt.Errorf("update rejected order: %w", err)
		}
		observability.RecordOrderFinished(order.Status, time.Since(started).Seconds())
		e.broadcast(rejectedEvent(order))
		return order, nil
	}

	order.Status = domain.OrderStatusApproved
	if err := e.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update approved order: %w", err)
	}

	receipt, execErr := e.execute(ctx, agent, order)
	if execErr != nil {
		order.Status = domain.OrderStatusFailed
		order.CompletedAt = time.Now().UnixMilli()
		if err := e.orders.Update(ctx, order); err != nil {
			return nil, fmt.Errorf("update failed order: %w", err)
		}
		observability.RecordOrderFinished(order.Status, time.Since(started).Seconds())
		e.logger.Printf("order %s failed: %v", order.OrderID, execErr)
		e.broadcast(failedEvent(order))
		return order, nil
	}

	order.Status = domain.OrderStatusExecuted
	order.TxSignature = receipt.TxSignature
	order.RealizedIn = receipt.RealizedIn
	order.RealizedOut = receipt.RealizedOut
	order.CompletedAt = time.Now().UnixMilli()
	if err := e.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update executed order: %w", err)
	}
	observability.RecordOrderFinished(order.Status, time.Since(started).Seconds())
	observability.DefaultMetrics.LastSuccessfulCycle.Set(float64(time.Now().Unix()))

	e.settle(ctx, order)
	e.broadcast(executedEvent(order))
	return order, nil
}

// execute builds, signs, and submits the swap. A swap is submitted at
// most once; ambiguous outcomes are resolved by bounded reconciliation,
// never by resubmission.
func (e *Engine) execute(ctx context.Context, agent *domain.Agent, order *domain.TradeOrder) (*exchange.SwapReceipt, error) {
	tx, err := e.builder.BuildSwap(ctx, agent, order)
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}
	serialized, err := tx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize swap: %w", err)
	}

	observability.RecordSwapSubmitted()
	receipt, err := e.gateway.Swap(ctx, order, serialized)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, exchange.ErrAmbiguousSwapState) {
		return nil, fmt.Errorf("swap: %w", err)
	}

	observability.RecordSwapAmbiguous()
	e.logger.Printf("order %s: swap state ambiguous, reconciling: %v", order.OrderID, err)
	return e.resolve(ctx, order.OrderID)
}

// resolve re-queries the realized outcome of an ambiguous swap until
// the gateway reports it or the attempt budget runs out.
func (e *Engine) resolve(ctx context.Context, orderID string) (*exchange.SwapReceipt, error) {
	var lastErr error
	for attempt := 1; attempt <= e.resolveAttempts; attempt++ {
		receipt, err := e.gateway.ResolveSwap(ctx, orderID)
		if err == nil {
			observability.RecordSwapReconciled()
			return receipt, nil
		}
		lastErr = err
		if !errors.Is(err, exchange.ErrSwapUnresolved) {
			break
		}
		if attempt < e.resolveAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.resolveDelay):
			}
		}
	}
	return nil, fmt.Errorf("swap unresolved after %d attempts: %w", e.resolveAttempts, lastErr)
}

// settle runs the revenue split and analytics projection for an executed
// order. Settlement failures are logged, not propagated: the order
// already executed and must stay recorded as such.
func (e *Engine) settle(ctx context.Context, order *domain.TradeOrder) {
	event, err := e.ledger.Settle(ctx, order)
	if err != nil {
		if errors.Is(err, settlement.ErrInvariant) {
			observability.RecordPoolFrozen()
		}
		e.logger.Printf("order %s: settlement failed: %v", order.OrderID, err)
	} else if event != nil {
		observability.RecordSettlement(event.PlatformFee, event.HolderPool)
	}

	profit := order.Profit()
	if profit > 0 {
		observability.DefaultMetrics.RealizedProfit.Add(float64(profit))
	} else if profit < 0 {
		observability.DefaultMetrics.RealizedLoss.Add(float64(-profit))
	}

	trade := &domain.RealizedTrade{
		OrderID:     order.OrderID,
		AgentID:     order.AgentID,
		InputMint:   order.InputMint,
		OutputMint:  order.OutputMint,
		AmountIn:    order.AmountIn,
		RealizedOut: order.RealizedOut,
		Profit:      profit,
		ExecutedAt:  order.CompletedAt,
	}
	if event != nil {
		trade.PlatformFee = event.PlatformFee
		trade.HolderPool = event.HolderPool
	}
	if err := e.analytics.InsertTrade(ctx, trade); err != nil {
		e.logger.Printf("order %s: analytics insert failed: %v", order.OrderID, err)
	}
}

// ClaimRevenue pays the holder their claimable share of the agent's
// revenue pool, reading live holdings and supply from chain.
func (e *Engine) ClaimRevenue(ctx context.Context, holder, agentID string) (int64, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("load agent: %w", err)
	}
	if agent.TokenMint == "" {
		return 0, fmt.Errorf("%w: agent %s", ErrNoTokenMint, agentID)
	}

	holdings, supply, err := e.holderPosition(ctx, holder, agent.TokenMint)
	if err != nil {
		return 0, err
	}

	amount, err := e.ledger.Claim(ctx, holder, agentID, holdings, supply)
	if err != nil {
		if errors.Is(err, settlement.ErrInvariant) {
			observability.RecordPoolFrozen()
		}
		return 0, err
	}
	if amount > 0 {
		observability.RecordClaim(amount)
		e.logger.Printf("holder %s claimed %d from agent %s", holder, amount, agentID)
	}
	return amount, nil
}

// holderPosition reads live holdings and total supply for the mint.
func (e *Engine) holderPosition(ctx context.Context, holder, mint string) (holdings, supply int64, err error) {
	if e.chain == nil {
		return 0, 0, errors.New("engine: no chain client configured for claims")
	}
	supply, err = e.chain.TokenSupply(ctx, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("token supply: %w", err)
	}
	holdings, err = e.chain.TokenBalance(ctx, holder, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("token balance: %w", err)
	}
	return holdings, supply, nil
}

// PortfolioView is the read-side portfolio projection.
type PortfolioView struct {
	AgentID          string `json:"agent_id"`
	Wallet           string `json:"wallet"`
	ValueLamports    int64  `json:"value_lamports"`
	FundingLamports  int64  `json:"funding_lamports"`
	RealizedPnL      int64  `json:"realized_pnl"`
	ExecutedTrades   int    `json:"executed_trades"`
	UnclaimedRevenue int64  `json:"unclaimed_revenue"`
}

// Portfolio returns the agent's portfolio projection.
func (e *Engine) Portfolio(ctx context.Context, agentID string) (*PortfolioView, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	value, err := e.portfolioLamports(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("portfolio value: %w", err)
	}

	pnl, executed, err := e.realizedFlows(ctx, agentID)
	if err != nil {
		return nil, err
	}

	unclaimed, err := e.ledger.Unclaimed(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("unclaimed revenue: %w", err)
	}

	return &PortfolioView{
		AgentID:          agent.AgentID,
		Wallet:           agent.Wallet,
		ValueLamports:    value,
		FundingLamports:  agent.FundingLamports,
		RealizedPnL:      pnl,
		ExecutedTrades:   executed,
		UnclaimedRevenue: unclaimed,
	}, nil
}

// RiskStatusView is the read-side risk projection.
type RiskStatusView struct {
	AgentID             string   `json:"agent_id"`
	RiskTolerance       int      `json:"risk_tolerance"`
	RiskBreached        bool     `json:"risk_breached"`
	PortfolioLamports   int64    `json:"portfolio_lamports"`
	PositionCapLamports int64    `json:"position_cap_lamports"`
	LargestTradeBps     int64    `json:"largest_trade_bps"` // largest executed trade as fraction of portfolio
	Warnings            []string `json:"warnings"`
}

// RiskStatus returns the agent's current risk posture.
func (e *Engine) RiskStatus(ctx context.Context, agentID string) (*RiskStatusView, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	portfolio, err := e.portfolioLamports(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("portfolio value: %w", err)
	}

	status := &RiskStatusView{
		AgentID:             agent.AgentID,
		RiskTolerance:       agent.RiskTolerance,
		RiskBreached:        agent.RiskBreached,
		PortfolioLamports:   portfolio,
		PositionCapLamports: pipeline.PositionCap(agent, portfolio),
		Warnings:            []string{},
	}

	orders, err := e.orders.GetByAgent(ctx, agentID, 0)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	var largest int64
	for _, o := range orders {
		if o.Status == domain.OrderStatusExecuted && o.RealizedIn > largest {
			largest = o.RealizedIn
		}
	}
	if portfolio > 0 {
		status.LargestTradeBps = largest * 10_000 / portfolio
	}

	if agent.RiskBreached {
		status.Warnings = append(status.Warnings, "risk limit breached; trading suspended")
	}
	if agent.Disabled {
		status.Warnings = append(status.Warnings, "agent disabled")
	}
	if portfolio == 0 {
		status.Warnings = append(status.Warnings, "portfolio empty; fund the agent wallet")
	}

	return status, nil
}

// OrderHistory returns the agent's orders, newest first.
func (e *Engine) OrderHistory(ctx context.Context, agentID string, limit int) ([]*domain.TradeOrder, error) {
	if _, err := e.agents.GetByID(ctx, agentID); err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return e.orders.GetByAgent(ctx, agentID, limit)
}

// Leaderboard returns per-agent performance over [start, end].
func (e *Engine) Leaderboard(ctx context.Context, start, end int64, limit int) ([]*domain.LeaderboardRow, error) {
	return e.analytics.Leaderboard(ctx, start, end, limit)
}

// Agents returns all registered agents.
func (e *Engine) Agents(ctx context.Context) ([]*domain.Agent, error) {
	return e.agents.List(ctx)
}

// SetAgentDisabled flips the agent's trading flag. Disabled agents are
// skipped by the scheduler and refuse forced cycles; their records and
// revenue pools stay intact.
func (e *Engine) SetAgentDisabled(ctx context.Context, agentID string, disabled bool) error {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if agent.Disabled == disabled {
		return nil
	}

	agent.Disabled = disabled
	agent.UpdatedAt = time.Now().UnixMilli()
	if err := e.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	e.logger.Printf("agent %s disabled=%v", agentID, disabled)
	return nil
}

// portfolioLamports values the agent's portfolio: the live wallet
// balance when a chain client is configured, otherwise cumulative
// funding plus realized trade flows.
func (e *Engine) portfolioLamports(ctx context.Context, agent *domain.Agent) (int64, error) {
	if e.chain != nil {
		return e.chain.Balance(ctx, agent.Wallet)
	}
	pnl, _, err := e.realizedFlows(ctx, agent.AgentID)
	if err != nil {
		return 0, err
	}
	value := agent.FundingLamports + pnl
	if value < 0 {
		value = 0
	}
	return value, nil
}

// realizedFlows sums realized profit across executed orders.
func (e *Engine) realizedFlows(ctx context.Context, agentID string) (pnl int64, executed int, err error) {
	orders, err := e.orders.GetByAgent(ctx, agentID, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		if o.Status == domain.OrderStatusExecuted {
			pnl += o.Profit()
			executed++
		}
	}
	return pnl, executed, nil
}

func (e *Engine) broadcast(event *ActivityEvent) {
	if e.notifier != nil {
		e.notifier.Broadcast(event)
	}
}

func executedEvent(order *domain.TradeOrder) *ActivityEvent {
	return &ActivityEvent{
		Kind:        ActivityOrderExecuted,
		AgentID:     order.AgentID,
		OrderID:     order.OrderID,
		InputMint:   order.InputMint,
		OutputMint:  order.OutputMint,
		AmountIn:    order.AmountIn,
		RealizedOut: order.RealizedOut,
		Profit:      order.Profit(),
		TxSignature: order.TxSignature,
		At:          order.CompletedAt,
	}
}

func rejectedEvent(order *domain.TradeOrder) *ActivityEvent {
	return &ActivityEvent{
		Kind:         ActivityOrderRejected,
		AgentID:      order.AgentID,
		OrderID:      order.OrderID,
		InputMint:    order.InputMint,
		OutputMint:   order.OutputMint,
		AmountIn:     order.AmountIn,
		RejectStage:  order.RejectStage,
		RejectReason: order.RejectReason,
		At:           order.CompletedAt,
	}
}

func failedEvent(order *domain.TradeOrder) *ActivityEvent {
	return &ActivityEvent{
		Kind:       ActivityOrderFailed,
		AgentID:    order.AgentID,
		OrderID:    order.OrderID,
		InputMint:  order.InputMint,
		OutputMint: order.OutputMint,
		AmountIn:   order.AmountIn,
		At:         order.CompletedAt,
	}
}
