// Package settlement turns executed trade outcomes into revenue events,
// accumulates per-agent holder pools, and pays out pro-rata claims. All
// monetary math is integer lamport arithmetic; division always rounds
// down so the sum of parts never exceeds the whole.
package settlement

// PlatformFeeDivisor takes 1% of positive profit for the platform.
const PlatformFeeDivisor = 100

// Split divides the outcome of a trade into profit, platform fee, and
// holder pool contribution. Losses and break-even trades produce no fee
// and no pool contribution; the loss is reflected in profit alone.
func Split(realizedIn, realizedOut int64) (profit, platformFee, holderPool int64) {
	profit = realizedOut - realizedIn
	if profit <= 0 {
		return profit, 0, 0
	}
	platformFee = profit / PlatformFeeDivisor
	holderPool = profit - platformFee
	return profit, platformFee, holderPool
}
