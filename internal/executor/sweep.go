package executor

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
)

// ratioImbalanceBps is the wallet ratio skew beyond which the pre-sweep
// rebalancing swap fires: one side holding more than 80% of the estimated
// wallet value.
const ratioImbalanceBps = 8000

// executeIdleSweep redeploys idle wallet balances: an optional ratio swap
// first, then the same per-tier loop as a deploy, sized from live balances.
func (e *Executor) executeIdleSweep(ctx context.Context, in *domain.SignedIntent, r *domain.IdleSweepRecipe) (*domain.ExecutionResult, error) {
	var swapReceipt *chain.Receipt
	if r.RebalanceFirst {
		rec, err := e.ratioSwap(ctx, e.slippageFor(in, 0))
		if err != nil {
			return nil, fmt.Errorf("ratio swap: %w", err)
		}
		swapReceipt = rec
	}

	result, err := e.executeDeploy(ctx, in, r.EnabledTiers, true)
	if err != nil {
		return nil, err
	}
	if swapReceipt != nil {
		// The swap confirmed before the tier loop; prepend it so the
		// report carries every transaction of the sweep.
		result.TxHashes = append([]string{swapReceipt.TxHash}, result.TxHashes...)
		result.BlockNumbers = append([]uint64{swapReceipt.BlockNumber}, result.BlockNumbers...)
		result.GasUsed += swapReceipt.GasUsed
	}
	return result, nil
}

// ratioSwap swaps half the surplus side toward balance when the wallet's
// token ratio is badly skewed. No-op when the ratio is acceptable or prices
// are unknown.
func (e *Executor) ratioSwap(ctx context.Context, slippageBps int) (*chain.Receipt, error) {
	if e.quoter == nil {
		return nil, nil
	}
	alloc, err := e.svc.TierAllocations(ctx)
	if err != nil {
		observability.RecordServiceError("allocations")
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	e.rememberPrices(alloc)
	if e.lastPrices.token0 <= 0 || e.lastPrices.token1 <= 0 {
		return nil, nil
	}

	bal0, err := e.chain.BalanceOf(ctx, e.cfg.Token0, e.cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read token0 balance: %w", err)
	}
	bal1, err := e.chain.BalanceOf(ctx, e.cfg.Token1, e.cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read token1 balance: %w", err)
	}

	usd0 := tokenUSD(bal0.ToBig(), e.cfg.Token0Decimals, e.lastPrices.token0)
	usd1 := tokenUSD(bal1.ToBig(), e.cfg.Token1Decimals, e.lastPrices.token1)
	total := usd0 + usd1
	if total <= 0 {
		return nil, nil
	}

	tokenIn, tokenOut := e.cfg.Token0, e.cfg.Token1
	surplus := bal0.ToBig()
	heavyBps := int(usd0 / total * bpsScale)
	if usd1 > usd0 {
		tokenIn, tokenOut = e.cfg.Token1, e.cfg.Token0
		surplus = bal1.ToBig()
		heavyBps = int(usd1 / total * bpsScale)
	}
	if heavyBps < ratioImbalanceBps {
		return nil, nil
	}

	// Swap half the heavy side; the tier loop tolerates a rough ratio.
	amountIn := new(big.Int).Rsh(surplus, 1)
	if amountIn.Sign() == 0 {
		return nil, nil
	}

	quote, err := e.quoter.Quote(ctx, aggregator.QuoteRequest{
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn.String(),
		SlippageBps: slippageBps,
		Recipient:   e.cfg.WalletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if _, err := e.ensureAllowance(ctx, tokenIn, quote.Spender, amountIn); err != nil {
		return nil, err
	}

	rec, err := e.submit.Execute(ctx, quote.Tx, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return nil, fmt.Errorf("execute: %w", err)
	}
	observability.RecordTxSubmitted("confirmed")
	e.logger.Printf("[executor] ratio swap confirmed: %s", rec.TxHash)
	return rec, nil
}

// equalAddress compares two 0x-hex addresses case-insensitively.
func equalAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
