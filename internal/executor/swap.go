package executor

import (
	"context"
	"fmt"
	"math/big"

	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
)

// executeSwap runs a single aggregator swap between wallet tokens.
func (e *Executor) executeSwap(ctx context.Context, in *domain.SignedIntent, r *domain.SwapTokensRecipe) (*domain.ExecutionResult, error) {
	if e.quoter == nil {
		return nil, fmt.Errorf("no swap aggregator configured")
	}
	amountIn, err := parseAmount(r.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("swap amount: %w", err)
	}

	bal, err := e.chain.BalanceOf(ctx, r.TokenIn, e.cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if bal.ToBig().Cmp(amountIn) < 0 {
		observability.RecordSkipped("insufficient_balance")
		return &domain.ExecutionResult{
			Status: domain.StatusSkipped,
			Reason: fmt.Sprintf("balance %s below swap amount %s", bal.Dec(), r.AmountIn),
		}, nil
	}

	quote, err := e.quoter.Quote(ctx, aggregator.QuoteRequest{
		TokenIn:     r.TokenIn,
		TokenOut:    r.TokenOut,
		AmountIn:    r.AmountIn,
		SlippageBps: e.slippageFor(in, r.SlippageBps),
		Recipient:   e.cfg.WalletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("swap quote: %w", err)
	}

	result := &domain.ExecutionResult{Status: domain.StatusCompleted}
	if rec, err := e.ensureAllowance(ctx, r.TokenIn, quote.Spender, amountIn); err != nil {
		return nil, err
	} else if rec != nil {
		appendReceipt(result, rec)
	}

	rec, err := e.submit.Execute(ctx, quote.Tx, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return nil, fmt.Errorf("execute swap: %w", err)
	}
	appendReceipt(result, rec)
	e.activity.Info("", in.IntentID, 0, "swapped %s %s for %s (min out %s)", r.AmountIn, r.TokenIn, r.TokenOut, quote.AmountOut)
	return result, nil
}

// parseAmount parses a decimal base-unit amount string.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
