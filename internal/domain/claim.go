package domain

// HolderClaim tracks how much of an agent's revenue pool a holder has
// already withdrawn. Claimed is a cumulative cursor into the pool
// accumulator: claimable = floor(accumulator * holdings / supply) - Claimed.
type HolderClaim struct {
	Holder  string // holder wallet address (base58)
	AgentID string

	Claimed   int64 // cumulative lamports claimed
	UpdatedAt int64 // ms
}
