package domain

// Agent represents an autonomous trading entity with a custodial wallet
// and its own holder token. Agents are never hard-deleted; retired agents
// are soft-disabled and skipped by the scheduler.
type Agent struct {
	AgentID string // uuid
	Name    string
	Creator string // creator wallet address (base58)

	// Custody
	Wallet       string // custodial wallet public key (base58)
	EncryptedKey []byte // vault ciphertext of the wallet secret key
	TokenMint    string // holder token mint address; empty until creation confirms

	// Risk configuration
	RiskTolerance   int   // 1 (conservative) .. 10 (aggressive)
	MaxTradeLamports int64 // hard cap per trade, lamports
	CycleIntervalMs int64 // trading cycle interval

	// Funding and lifecycle
	FundingLamports int64 // cumulative deposits, lamports
	Disabled        bool
	RiskBreached    bool // aggregate risk-limit flag; blocks new trades until cleared

	CreatedAt int64 // ms
	UpdatedAt int64 // ms
}

// Risk tolerance bounds.
const (
	MinRiskTolerance = 1
	MaxRiskTolerance = 10
)

// LamportsPerSOL is the smallest-unit scale of the settlement currency.
const LamportsPerSOL = 1_000_000_000
