// Package exchange talks to the swap aggregator: price quotes, execution
// simulation, and swap broadcast with post-broadcast reconciliation.
package exchange

import (
	"context"
	"errors"

	"agent-engine/internal/domain"
)

// Gateway errors. ErrAmbiguousSwapState means the broadcast outcome is
// unknown; callers must reconcile via ResolveSwap and never resubmit.
var (
	ErrQuoteUnavailable      = errors.New("exchange: no quote available for pair")
	ErrLiquidityInsufficient = errors.New("exchange: insufficient liquidity for size")
	ErrNetworkTimeout        = errors.New("exchange: network timeout")
	ErrAmbiguousSwapState    = errors.New("exchange: swap submitted but outcome unknown")
	ErrSwapUnresolved        = errors.New("exchange: swap outcome could not be resolved")
)

// QuoteResult is an indicative price for a swap of a given size.
type QuoteResult struct {
	InputMint      string
	OutputMint     string
	InAmount       int64 // base units
	ExpectedOut    int64 // base units
	PriceImpactBps int64
	Route          string // aggregator route label, opaque
}

// SimulationResult is the outcome of a dry-run of the exact swap about to
// be executed.
type SimulationResult struct {
	EstimatedOut   int64
	PriceImpactBps int64
	Feasible       bool
	Reason         string // set when not feasible
}

// SwapReceipt is the confirmed on-chain outcome of an executed swap.
type SwapReceipt struct {
	TxSignature string
	RealizedIn  int64
	RealizedOut int64
}

// Gateway is the swap venue surface the trading engine depends on.
//
// Quote and Simulate are idempotent and may be retried. Swap is NOT
// idempotent: an ambiguous failure surfaces as ErrAmbiguousSwapState and
// the caller reconciles with ResolveSwap rather than resubmitting.
type Gateway interface {
	// Quote returns an indicative price for swapping amountIn of
	// inputMint into outputMint.
	Quote(ctx context.Context, inputMint, outputMint string, amountIn int64) (*QuoteResult, error)

	// Simulate dry-runs the swap described by order without spending
	// funds.
	Simulate(ctx context.Context, order *domain.TradeOrder) (*SimulationResult, error)

	// Swap broadcasts the signed transaction for order. serializedTx is
	// the base64 wire form produced by the transaction builder.
	Swap(ctx context.Context, order *domain.TradeOrder, serializedTx string) (*SwapReceipt, error)

	// ResolveSwap looks up the outcome of a previously broadcast swap by
	// order ID. Returns ErrSwapUnresolved while the venue has no record.
	ResolveSwap(ctx context.Context, orderID string) (*SwapReceipt, error)

	// Tradable reports whether the venue can currently route the pair at
	// all, independent of size.
	Tradable(ctx context.Context, inputMint, outputMint string) (bool, error)
}
