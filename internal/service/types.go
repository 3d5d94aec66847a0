package service

import (
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
)

// Allocations are the tier sizing parameters supplied by the remote service.
// Token prices are advisory USD estimates for threshold checks only.
type Allocations struct {
	Tiers          []domain.TierAllocation `json:"tiers"`
	Token0PriceUSD float64                 `json:"token0PriceUsd"`
	Token1PriceUSD float64                 `json:"token1PriceUsd"`
}

// BundleRequest asks the service to build a close+reopen bundle for one
// out-of-range position.
type BundleRequest struct {
	TokenID     uint64 `json:"tokenId"`
	TickLower   int32  `json:"tickLower"`
	TickUpper   int32  `json:"tickUpper"`
	SlippageBps int    `json:"slippageBps"`
}

// SwapSpec describes the rebalancing swap a bundle requires between the
// close and reopen steps. Amounts are decimal strings in base units.
type SwapSpec struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	AmountIn string `json:"amountIn"`
}

// RebalanceBundle is a service-built close+reopen transaction pair with an
// optional rebalancing swap between them.
type RebalanceBundle struct {
	Close  *chain.TxRequest `json:"close"`
	Reopen *chain.TxRequest `json:"reopen"`
	Swap   *SwapSpec        `json:"swap,omitempty"`
}

// NeedsSwap reports whether the bundle requires a rebalancing swap.
func (b *RebalanceBundle) NeedsSwap() bool {
	return b.Swap != nil && b.Swap.AmountIn != "" && b.Swap.AmountIn != "0"
}

// ReopenRequest asks for a refreshed reopen transaction after the close and
// swap moved the pool price.
type ReopenRequest struct {
	TokenID     uint64 `json:"tokenId"`
	CurrentTick int32  `json:"currentTick"`
	SlippageBps int    `json:"slippageBps"`
}
