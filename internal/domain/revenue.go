package domain

// RevenueEvent records the fee split of one profitable executed order.
// Created exactly once per executed order with positive profit; immutable.
// Invariant: PlatformFee + HolderPool == Profit.
type RevenueEvent struct {
	EventID string // uuid
	OrderID string
	AgentID string

	Profit      int64 // RealizedOut - RealizedIn, smallest unit
	PlatformFee int64 // floor(Profit / 100)
	HolderPool  int64 // Profit - PlatformFee

	CreatedAt int64 // ms
}

// RevenuePool is the per-agent revenue accumulator state. The accumulator
// only grows; claims advance TotalClaimed, never shrink the accumulator.
type RevenuePool struct {
	AgentID      string
	Accumulator  int64 // cumulative holder-pool lamports from all revenue events
	TotalClaimed int64 // cumulative lamports paid out across all holders
	Frozen       bool  // set on invariant violation; blocks settlement and claims
	UpdatedAt    int64 // ms
}

// Unclaimed returns the lamports still sitting in the pool, including
// floor-division dust that is never redistributed.
func (p *RevenuePool) Unclaimed() int64 {
	return p.Accumulator - p.TotalClaimed
}
