// Package stub provides an in-memory exchange.Gateway for tests and for
// running the server without a live aggregator.
package stub

import (
	"context"
	"fmt"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/exchange"
)

// Gateway implements exchange.Gateway against an in-memory rate table.
// Output amounts are computed as in * rateBps / 10_000 for the pair.
type Gateway struct {
	mu sync.Mutex

	rateBps    map[string]int64
	impactBps  map[string]int64
	unroutable map[string]bool

	simulateReason map[string]string // pair -> infeasibility reason

	quoteErr      error
	simulateErr   error
	swapErr       error
	swapCalls     int
	simulateCalls int

	resolved     map[string]*exchange.SwapReceipt
	resolveAfter map[string]int
}

// NewGateway creates an empty stub gateway.
func NewGateway() *Gateway {
	return &Gateway{
		rateBps:        make(map[string]int64),
		impactBps:      make(map[string]int64),
		unroutable:     make(map[string]bool),
		simulateReason: make(map[string]string),
		resolved:       make(map[string]*exchange.SwapReceipt),
		resolveAfter:   make(map[string]int),
	}
}

var _ exchange.Gateway = (*Gateway)(nil)

func pairKey(inputMint, outputMint string) string {
	return inputMint + "/" + outputMint
}

// SetRate sets the conversion rate for a pair in basis points:
// out = in * rateBps / 10_000.
func (g *Gateway) SetRate(inputMint, outputMint string, rateBps int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rateBps[pairKey(inputMint, outputMint)] = rateBps
}

// SetImpact sets the reported price impact for a pair.
func (g *Gateway) SetImpact(inputMint, outputMint string, impactBps int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.impactBps[pairKey(inputMint, outputMint)] = impactBps
}

// SetUnroutable marks a pair as having no route.
func (g *Gateway) SetUnroutable(inputMint, outputMint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unroutable[pairKey(inputMint, outputMint)] = true
}

// FailSimulation makes Simulate report the pair infeasible with reason.
func (g *Gateway) FailSimulation(inputMint, outputMint, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simulateReason[pairKey(inputMint, outputMint)] = reason
}

// FailQuoteWith makes every subsequent Quote call return err.
func (g *Gateway) FailQuoteWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quoteErr = err
}

// FailSimulateWith makes every subsequent Simulate call return err.
func (g *Gateway) FailSimulateWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simulateErr = err
}

// FailSwapWith makes every subsequent Swap call return err.
func (g *Gateway) FailSwapWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.swapErr = err
}

// StashReceipt makes ResolveSwap return receipt for orderID after the
// given number of unresolved attempts.
func (g *Gateway) StashReceipt(orderID string, receipt *exchange.SwapReceipt, afterAttempts int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved[orderID] = receipt
	g.resolveAfter[orderID] = afterAttempts
}

// SwapCalls returns how many times Swap has been invoked.
func (g *Gateway) SwapCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.swapCalls
}

// SimulateCalls returns how many times Simulate has been invoked.
func (g *Gateway) SimulateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.simulateCalls
}

// Quote returns the table rate for the pair.
func (g *Gateway) Quote(_ context.Context, inputMint, outputMint string, amountIn int64) (*exchange.QuoteResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.quoteErr != nil {
		return nil, g.quoteErr
	}
	key := pairKey(inputMint, outputMint)
	if g.unroutable[key] {
		return nil, fmt.Errorf("%w: %s", exchange.ErrQuoteUnavailable, key)
	}
	rate, ok := g.rateBps[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exchange.ErrQuoteUnavailable, key)
	}

	return &exchange.QuoteResult{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amountIn,
		ExpectedOut:    amountIn * rate / 10_000,
		PriceImpactBps: g.impactBps[key],
		Route:          "stub",
	}, nil
}

// Simulate mirrors Quote unless the pair has a stashed failure reason.
func (g *Gateway) Simulate(ctx context.Context, order *domain.TradeOrder) (*exchange.SimulationResult, error) {
	g.mu.Lock()
	g.simulateCalls++
	injected := g.simulateErr
	reason, failed := g.simulateReason[pairKey(order.InputMint, order.OutputMint)]
	g.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if failed {
		return &exchange.SimulationResult{Feasible: false, Reason: reason}, nil
	}

	quote, err := g.Quote(ctx, order.InputMint, order.OutputMint, order.AmountIn)
	if err != nil {
		return nil, err
	}
	return &exchange.SimulationResult{
		EstimatedOut:   quote.ExpectedOut,
		PriceImpactBps: quote.PriceImpactBps,
		Feasible:       true,
	}, nil
}

// Swap executes against the rate table, or returns the injected error.
func (g *Gateway) Swap(ctx context.Context, order *domain.TradeOrder, _ string) (*exchange.SwapReceipt, error) {
	g.mu.Lock()
	g.swapCalls++
	injected := g.swapErr
	g.mu.Unlock()

	if injected != nil {
		return nil, injected
	}

	quote, err := g.Quote(ctx, order.InputMint, order.OutputMint, order.AmountIn)
	if err != nil {
		return nil, err
	}

	receipt := &exchange.SwapReceipt{
		TxSignature: "stubsig-" + order.OrderID,
		RealizedIn:  order.AmountIn,
		RealizedOut: quote.ExpectedOut,
	}

	g.mu.Lock()
	g.resolved[order.OrderID] = receipt
	g.mu.Unlock()
	return receipt, nil
}

// ResolveSwap returns the stashed receipt once its attempt countdown has
// elapsed.
func (g *Gateway) ResolveSwap(_ context.Context, orderID string) (*exchange.SwapReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	receipt, ok := g.resolved[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", exchange.ErrSwapUnresolved, orderID)
	}
	if remaining := g.resolveAfter[orderID]; remaining > 0 {
		g.resolveAfter[orderID] = remaining - 1
		return nil, fmt.Errorf("%w: order %s", exchange.ErrSwapUnresolved, orderID)
	}
	return receipt, nil
}

// Tradable reports whether the pair has a rate and is not unroutable.
func (g *Gateway) Tradable(_ context.Context, inputMint, outputMint string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey(inputMint, outputMint)
	if g.unroutable[key] {
		return false, nil
	}
	_, ok := g.rateBps[key]
	return ok, nil
}
