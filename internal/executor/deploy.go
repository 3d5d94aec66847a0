package executor

import (
	"context"
	"fmt"
	"math/big"

	"clmm-agent/internal/chain"
	"clmm-agent/internal/clmath"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/service"
)

// bpsScale is the integer basis-point denominator used for all share and
// slippage math. Amounts never touch floating point.
const bpsScale = 10000

// maxTiers caps how many positions one deploy opens, whatever the service
// allocation response claims.
const maxTiers = 5

// executeDeploy opens up to five tier positions. The tier sizing parameters
// come from the remote service; percentages are renormalized locally over
// the enabled tiers. The same loop serves IDLE_SWEEP after its optional
// ratio swap.
func (e *Executor) executeDeploy(ctx context.Context, in *domain.SignedIntent, enabled []domain.Tier, sweep bool) (*domain.ExecutionResult, error) {
	alloc, err := e.svc.TierAllocations(ctx)
	if err != nil {
		observability.RecordServiceError("allocations")
		return nil, fmt.Errorf("fetch tier allocations: %w", err)
	}

	e.rememberPrices(alloc)

	tiers := filterTiers(alloc.Tiers, enabled)
	if len(tiers) == 0 {
		observability.RecordSkipped("no_enabled_tiers")
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: "no enabled tiers"}, nil
	}
	if len(tiers) > maxTiers {
		e.logger.Printf("[executor] service returned %d tiers, deploying the first %d", len(tiers), maxTiers)
		tiers = tiers[:maxTiers]
	}
	shares := renormalizeShares(tiers)

	// Starting balances fix each tier's budget; live balances re-read per
	// tier cap the spend so drift between submissions cannot overdraw.
	startBal0, err := e.chain.BalanceOf(ctx, e.cfg.Token0, e.cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read token0 balance: %w", err)
	}
	startBal1, err := e.chain.BalanceOf(ctx, e.cfg.Token1, e.cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read token1 balance: %w", err)
	}

	result := &domain.ExecutionResult{Status: domain.StatusCompleted}
	slippage := e.slippageFor(in, 0)

	for i, tier := range tiers {
		if err := e.deployTier(ctx, in, tier, shares[i], startBal0.ToBig(), startBal1.ToBig(), slippage, result); err != nil {
			if len(result.TxHashes) == 0 {
				return nil, fmt.Errorf("deploy tier %s: %w", tier.Tier, err)
			}
			// Later tiers abort; earlier mints stand.
			result.Status = domain.StatusPartial
			result.Reason = fmt.Sprintf("tier %s failed after %d opened: %v", tier.Tier, len(result.OpenedTokenIDs), err)
			return result, nil
		}
	}

	if len(result.OpenedTokenIDs) == 0 {
		result.Status = domain.StatusSkipped
		result.Reason = "all tiers below minimum position value"
		observability.RecordSkipped("below_min_value")
		return result, nil
	}

	verb := "deployed"
	if sweep {
		verb = "swept into"
	}
	e.activity.Info(domain.EventPositionDeployed, in.IntentID, 0, "%s %d positions across %d tiers", verb, len(result.OpenedTokenIDs), len(tiers))
	return result, nil
}

// deployTier mints one tier position. A tier below the USD floor or with no
// achievable liquidity is skipped without error; anything else aborts the
// remaining tiers.
func (e *Executor) deployTier(ctx context.Context, in *domain.SignedIntent, tier domain.TierAllocation, shareBps int, startBal0, startBal1 *big.Int, slippageBps int, result *domain.ExecutionResult) error {
	// Fresh tick and balances for every tier: five sequential submissions
	// drift, and the sizing math must see the pool as it is now.
	pool, err := e.chain.PoolState(ctx, e.cfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("read pool state: %w", err)
	}
	live0, err := e.chain.BalanceOf(ctx, e.cfg.Token0, e.cfg.WalletAddress)
	if err != nil {
		return fmt.Errorf("read token0 balance: %w", err)
	}
	live1, err := e.chain.BalanceOf(ctx, e.cfg.Token1, e.cfg.WalletAddress)
	if err != nil {
		return fmt.Errorf("read token1 balance: %w", err)
	}

	budget0 := minBig(shareOf(startBal0, shareBps), live0.ToBig())
	budget1 := minBig(shareOf(startBal1, shareBps), live1.ToBig())

	tickLower, tickUpper := alignedRange(pool.Tick, tier.RangeWidth, e.cfg.TickSpacing)

	amount0, amount1, liquidity, err := clmath.OptimalAmounts(pool.Tick, tickLower, tickUpper, budget0, budget1, pool.SqrtPriceX96)
	if err != nil {
		// Out-of-domain tick aborts before any chain interaction.
		return fmt.Errorf("size tier position: %w", err)
	}
	if liquidity.Sign() == 0 {
		e.logger.Printf("[executor] tier %s: no achievable liquidity, skipping", tier.Tier)
		return nil
	}

	// The USD floor is advisory and needs a price to mean anything. Without
	// prices in the allocations response the check is unavailable and the
	// tier proceeds on the sizing math alone.
	if e.lastPrices.token0 > 0 || e.lastPrices.token1 > 0 {
		if usd := e.usdEstimate(amount0, amount1); usd < e.cfg.MinPositionUSD {
			e.logger.Printf("[executor] tier %s: value $%.2f below floor $%.2f, skipping", tier.Tier, usd, e.cfg.MinPositionUSD)
			return nil
		}
	}

	if rec, err := e.ensureAllowance(ctx, e.cfg.Token0, e.cfg.ManagerAddress, amount0); err != nil {
		return err
	} else if rec != nil {
		appendReceipt(result, rec)
	}
	if rec, err := e.ensureAllowance(ctx, e.cfg.Token1, e.cfg.ManagerAddress, amount1); err != nil {
		return err
	} else if rec != nil {
		appendReceipt(result, rec)
	}

	data := chain.MintCalldata(chain.MintParams{
		Token0:         e.cfg.Token0,
		Token1:         e.cfg.Token1,
		Fee:            e.cfg.PoolFee,
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     applySlippage(amount0, slippageBps),
		Amount1Min:     applySlippage(amount1, slippageBps),
		Recipient:      e.cfg.WalletAddress,
		Deadline:       e.deadline(),
	})
	rec, err := e.submit.Execute(ctx, chain.TxRequest{To: e.cfg.ManagerAddress, Data: chain.HexCalldata(data)}, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return fmt.Errorf("mint: %w", err)
	}
	appendReceipt(result, rec)

	tokenID, ok := chain.MintedTokenID(rec)
	if !ok {
		return fmt.Errorf("mint %s confirmed without a transfer log", rec.TxHash)
	}
	result.OpenedTokenIDs = append(result.OpenedTokenIDs, tokenID)
	observability.DefaultMetrics.PositionsOpened.Inc()
	e.logger.Printf("[executor] tier %s: minted position %d [%d, %d)", tier.Tier, tokenID, tickLower, tickUpper)
	return nil
}

// filterTiers keeps the service allocations matching the locally-enabled
// tier list. An empty enabled list means all tiers.
func filterTiers(all []domain.TierAllocation, enabled []domain.Tier) []domain.TierAllocation {
	if len(enabled) == 0 {
		return all
	}
	want := make(map[domain.Tier]struct{}, len(enabled))
	for _, t := range enabled {
		want[t] = struct{}{}
	}
	var out []domain.TierAllocation
	for _, a := range all {
		if _, ok := want[a.Tier]; ok {
			out = append(out, a)
		}
	}
	return out
}

// renormalizeShares scales the enabled tiers' percentages to sum to one,
// expressed in integer basis points. The last tier absorbs the rounding
// remainder so the shares always total exactly bpsScale.
func renormalizeShares(tiers []domain.TierAllocation) []int {
	total := 0.0
	for _, t := range tiers {
		total += t.Percent
	}
	shares := make([]int, len(tiers))
	if total <= 0 {
		return shares
	}
	used := 0
	for i, t := range tiers {
		if i == len(tiers)-1 {
			shares[i] = bpsScale - used
			break
		}
		shares[i] = int(t.Percent / total * bpsScale)
		used += shares[i]
	}
	return shares
}

// alignedRange centers a tick range of the given total width on the current
// tick, aligned down to the pool's tick spacing.
func alignedRange(currentTick, width, spacing int32) (int32, int32) {
	half := width / 2
	lower := alignTick(currentTick-half, spacing)
	upper := alignTick(currentTick+half, spacing)
	if upper <= lower {
		upper = lower + spacing
	}
	return lower, upper
}

// alignTick floors a tick to a multiple of spacing (toward negative infinity).
func alignTick(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// shareOf returns amount * shareBps / 10000 in integer arithmetic.
func shareOf(amount *big.Int, shareBps int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(shareBps)))
	return out.Div(out, big.NewInt(bpsScale))
}

// applySlippage returns amount * (10000 - bps) / 10000.
func applySlippage(amount *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(bpsScale-bps)))
	return out.Div(out, big.NewInt(bpsScale))
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}

// usdEstimate converts base-unit amounts to an advisory USD value using the
// service-supplied prices. Threshold checks only; never used in amounts.
func (e *Executor) usdEstimate(amount0, amount1 *big.Int) float64 {
	return tokenUSD(amount0, e.cfg.Token0Decimals, e.lastPrices.token0) +
		tokenUSD(amount1, e.cfg.Token1Decimals, e.lastPrices.token1)
}

func tokenUSD(amount *big.Int, decimals int, priceUSD float64) float64 {
	if priceUSD <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	for i := 0; i < decimals; i++ {
		f /= 10
	}
	return f * priceUSD
}

// rememberPrices caches the advisory token prices from the latest
// allocations response for USD floor checks.
func (e *Executor) rememberPrices(alloc *service.Allocations) {
	e.lastPrices.token0 = alloc.Token0PriceUSD
	e.lastPrices.token1 = alloc.Token1PriceUSD
}
