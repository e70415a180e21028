package domain

// TradeOrder represents one trade attempt produced by a trading cycle.
// An order is immutable once it reaches ExecutedStatus or FailedStatus.
type TradeOrder struct {
	OrderID string // uuid
	AgentID string

	InputMint   string // asset leaving custody
	OutputMint  string // asset entering custody
	AmountIn    int64  // requested amount, smallest unit
	SlippageBps int    // permitted price impact, basis points

	Status       string // see OrderStatus* constants
	RejectStage  string // stage that rejected, if Status == OrderStatusRejected
	RejectReason string // human-readable rationale from the rejecting stage

	// Execution outcome
	TxSignature string // aggregator transaction signature, if broadcast
	RealizedIn  int64  // actual amount spent, smallest unit
	RealizedOut int64  // actual amount received, smallest unit

	CreatedAt   int64 // ms
	CompletedAt int64 // ms; zero while in flight
}

// Order status constants.
const (
	OrderStatusPending  = "PENDING"
	OrderStatusApproved = "APPROVED"
	OrderStatusRejected = "REJECTED"
	OrderStatusExecuted = "EXECUTED"
	OrderStatusFailed   = "FAILED"
)

// Terminal reports whether the order can no longer change.
func (o *TradeOrder) Terminal() bool {
	switch o.Status {
	case OrderStatusRejected, OrderStatusExecuted, OrderStatusFailed:
		return true
	}
	return false
}

// Profit returns realized output minus realized input. May be negative.
// Only meaningful for executed orders.
func (o *TradeOrder) Profit() int64 {
	return o.RealizedOut - o.RealizedIn
}
