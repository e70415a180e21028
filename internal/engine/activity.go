package engine

// ActivityKind labels the live feed event types.
const (
	ActivityOrderExecuted = "ORDER_EXECUTED"
	ActivityOrderRejected = "ORDER_REJECTED"
	ActivityOrderFailed   = "ORDER_FAILED"
)

// ActivityEvent is one entry on the live activity feed. A read-only
// projection of the order write path; consumers must tolerate loss.
type ActivityEvent struct {
	Kind    string `json:"kind"`
	AgentID string `json:"agent_id"`
	OrderID string `json:"order_id"`

	InputMint  string `json:"input_mint"`
	OutputMint string `json:"output_mint"`
	AmountIn   int64  `json:"amount_in"`

	// Executed orders only.
	RealizedOut int64  `json:"realized_out,omitempty"`
	Profit      int64  `json:"profit,omitempty"`
	TxSignature string `json:"tx_signature,omitempty"`

	// Rejected orders only.
	RejectStage  string `json:"reject_stage,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	At int64 `json:"at"` // ms
}

// Notifier receives activity events. Implementations must not block;
// the engine calls Broadcast inline on the cycle path.
type Notifier interface {
	Broadcast(event *ActivityEvent)
}
