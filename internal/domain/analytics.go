package domain

// RealizedTrade is the analytics projection of one executed order,
// written append-only after settlement. Powers leaderboard and
// performance views; never part of the settlement write path.
type RealizedTrade struct {
	OrderID string
	AgentID string

	InputMint  string
	OutputMint string

	AmountIn    int64
	RealizedOut int64
	Profit      int64 // may be negative
	PlatformFee int64
	HolderPool  int64

	ExecutedAt int64 // ms
}

// LeaderboardRow is a per-agent performance aggregate derived from
// realized trades.
type LeaderboardRow struct {
	AgentID     string
	Trades      int64
	Wins        int64 // trades with positive profit
	TotalProfit int64 // sum of profit, smallest unit
	FeesPaid    int64 // sum of platform fees
}

// WinRate returns wins/trades in [0,1], or 0 for no trades.
func (r *LeaderboardRow) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades)
}
