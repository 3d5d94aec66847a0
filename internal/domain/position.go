package domain

import "math/big"

// Tier classifies a position by the width of its tick range.
type Tier string

const (
	TierHot  Tier = "HOT"  // tightest range, most fee capture, most rebalancing
	TierWarm Tier = "WARM"
	TierCool Tier = "COOL"
	TierCold Tier = "COLD"
	TierWide Tier = "WIDE" // widest range, near-passive
)

// Tier width boundaries in ticks (exclusive upper bounds).
const (
	hotMaxWidth  = 600
	warmMaxWidth = 2400
	coolMaxWidth = 7200
	coldMaxWidth = 21600
)

// TierFromWidth derives the tier for a tick-range width.
func TierFromWidth(width int32) Tier {
	switch {
	case width < hotMaxWidth:
		return TierHot
	case width < warmMaxWidth:
		return TierWarm
	case width < coolMaxWidth:
		return TierCool
	case width < coldMaxWidth:
		return TierCold
	default:
		return TierWide
	}
}

// PositionRef identifies an on-chain liquidity position. It is never
// persisted; on-chain truth can change between polls, so callers re-query
// the chain before acting on one.
type PositionRef struct {
	TokenID   uint64
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
	Tier      Tier
}

// Width returns the tick-range width.
func (p *PositionRef) Width() int32 {
	return p.TickUpper - p.TickLower
}

// InRange reports whether the current tick sits inside the position's range.
func (p *PositionRef) InRange(currentTick int32) bool {
	return currentTick >= p.TickLower && currentTick < p.TickUpper
}

// TierAllocation is one tier's sizing parameters as supplied by the remote
// service. Percentages are renormalized locally over the enabled tiers.
type TierAllocation struct {
	Tier       Tier    `json:"tier"`
	Percent    float64 `json:"percent"`    // fraction of deployable value, 0..1
	RangeWidth int32   `json:"rangeWidth"` // total tick width for new positions
}

// Grace-period position statuses reported by the remote service.
const (
	PositionStatusGrace            = "GRACE_PERIOD"
	PositionStatusRebalancePending = "REBALANCE_PENDING"
)

// PositionStatus is a remote-service view of a tracked position, used by the
// grace period monitor.
type PositionStatus struct {
	TokenID        uint64 `json:"tokenId"`
	Status         string `json:"status"`
	GraceExpiresAt int64  `json:"graceExpiresAt"` // unix seconds, zero if n/a
}
