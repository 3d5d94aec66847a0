package domain

import (
	"encoding/json"
	"fmt"
)

// Action identifies the kind of operation a signed intent requests.
type Action string

const (
	ActionDeploy        Action = "DEPLOY"
	ActionRebalance     Action = "REBALANCE"
	ActionBatchWithdraw Action = "BATCH_WITHDRAW"
	ActionIdleSweep     Action = "IDLE_SWEEP"
	ActionCollectFees   Action = "COLLECT_FEES"
	ActionSwapTokens    Action = "SWAP_TOKENS"
	ActionLogicPurchase Action = "LOGIC_PURCHASE"
)

// Valid reports whether the action is one of the known intent actions.
func (a Action) Valid() bool {
	switch a {
	case ActionDeploy, ActionRebalance, ActionBatchWithdraw, ActionIdleSweep,
		ActionCollectFees, ActionSwapTokens, ActionLogicPurchase:
		return true
	}
	return false
}

// Constraints are per-intent execution caps declared by the signer.
// Zero values mean "no cap declared"; the policy ceilings still apply.
type Constraints struct {
	MaxGasPriceWei uint64 `json:"maxGasPriceWei,omitempty"`
	MaxSlippageBps int    `json:"maxSlippageBps,omitempty"`
}

// SignedIntent is the payload of a verified intent envelope.
// Immutable once verified; the engine never mutates a received intent.
type SignedIntent struct {
	IntentID    string          `json:"intentId"`
	Action      Action          `json:"action"`
	Recipe      json.RawMessage `json:"recipe,omitempty"`
	Constraints *Constraints    `json:"constraints,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Deadline    int64           `json:"deadline"`
}

// RebalanceRecipe targets one out-of-range position.
type RebalanceRecipe struct {
	TokenID   uint64 `json:"tokenId"`
	TickLower int32  `json:"tickLower"`
	TickUpper int32  `json:"tickUpper"`
}

// BatchWithdrawRecipe lists the positions to unwind in one multicall.
type BatchWithdrawRecipe struct {
	TokenIDs []uint64 `json:"tokenIds"`
}

// DeployRecipe carries optional overrides for tier deployment.
// Allocation percentages always come from the remote service, never the recipe.
type DeployRecipe struct {
	EnabledTiers []Tier `json:"enabledTiers,omitempty"`
}

// IdleSweepRecipe optionally requests a ratio-rebalancing swap before
// redeploying idle wallet balances.
type IdleSweepRecipe struct {
	RebalanceFirst bool   `json:"rebalanceFirst,omitempty"`
	EnabledTiers   []Tier `json:"enabledTiers,omitempty"`
}

// CollectFeesRecipe targets a single position for a harvest-only collect.
type CollectFeesRecipe struct {
	TokenID uint64 `json:"tokenId"`
}

// SwapTokensRecipe requests a single aggregator swap between wallet tokens.
type SwapTokensRecipe struct {
	TokenIn     string `json:"tokenIn"`
	TokenOut    string `json:"tokenOut"`
	AmountIn    string `json:"amountIn"` // decimal string, base units
	SlippageBps int    `json:"slippageBps,omitempty"`
}

// LogicPurchaseRecipe is opaque to the engine: the transaction is built
// entirely by the remote service and only policy-gated and submitted here.
type LogicPurchaseRecipe struct {
	OrderID string `json:"orderId"`
}

// DecodeRecipe decodes the intent's recipe into the typed form for its
// action. Unknown actions are a hard error, never a silent default.
func (in *SignedIntent) DecodeRecipe() (interface{}, error) {
	raw := in.Recipe
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch in.Action {
	case ActionDeploy:
		var r DeployRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionRebalance:
		var r RebalanceRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionBatchWithdraw:
		var r BatchWithdrawRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionIdleSweep:
		var r IdleSweepRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionCollectFees:
		var r CollectFeesRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionSwapTokens:
		var r SwapTokensRecipe
		return &r, json.Unmarshal(raw, &r)
	case ActionLogicPurchase:
		var r LogicPurchaseRecipe
		return &r, json.Unmarshal(raw, &r)
	default:
		return nil, fmt.Errorf("unknown intent action %q", in.Action)
	}
}
