package executor

import (
	"context"
	"fmt"

	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
)

// executeBatchWithdraw unwinds the requested positions in one multicall.
// Positions that fail the ownership or liquidity checks are skipped
// silently; they may already be gone, and one dead id must not block the
// rest of the batch.
func (e *Executor) executeBatchWithdraw(ctx context.Context, in *domain.SignedIntent, r *domain.BatchWithdrawRecipe) (*domain.ExecutionResult, error) {
	if len(r.TokenIDs) == 0 {
		observability.RecordSkipped("empty_batch")
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: "no token ids requested"}, nil
	}

	deadline := e.deadline()
	var calls [][]byte
	var withdrawn []uint64

	for _, tokenID := range r.TokenIDs {
		if e.tracker.IsClosed(tokenID) || e.tracker.IsActive(tokenID) {
			continue
		}
		triplet, err := e.withdrawCalls(ctx, tokenID, deadline)
		if err != nil {
			return nil, fmt.Errorf("prepare withdraw of %d: %w", tokenID, err)
		}
		if triplet == nil {
			continue
		}
		calls = append(calls, triplet...)
		withdrawn = append(withdrawn, tokenID)
	}

	if len(calls) == 0 {
		observability.RecordSkipped("nothing_to_withdraw")
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: "no withdrawable positions"}, nil
	}

	data := chain.MulticallCalldata(calls)
	rec, err := e.submit.Execute(ctx, chain.TxRequest{To: e.cfg.ManagerAddress, Data: chain.HexCalldata(data)}, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return nil, fmt.Errorf("batch withdraw multicall: %w", err)
	}

	result := &domain.ExecutionResult{Status: domain.StatusCompleted}
	appendReceipt(result, rec)

	for _, tokenID := range withdrawn {
		e.tracker.MarkClosed(tokenID)
		observability.DefaultMetrics.PositionsClosed.Inc()
	}
	e.activity.Info(domain.EventFeesCollected, in.IntentID, 0, "withdrew %d positions in one multicall", len(withdrawn))
	return result, nil
}

// withdrawCalls builds the decrease/collect/burn triplet for one position.
// Returns nil calls when the position fails the ownership or liquidity
// checks.
func (e *Executor) withdrawCalls(ctx context.Context, tokenID uint64, deadline uint64) ([][]byte, error) {
	owner, err := e.chain.OwnerOf(ctx, e.cfg.ManagerAddress, tokenID)
	if err != nil {
		return nil, fmt.Errorf("read owner: %w", err)
	}
	if !equalAddress(owner, e.cfg.WalletAddress) {
		e.logger.Printf("[executor] position %d not owned by wallet, skipping", tokenID)
		return nil, nil
	}

	pos, err := e.chain.Position(ctx, e.cfg.ManagerAddress, tokenID)
	if err != nil {
		return nil, fmt.Errorf("read position: %w", err)
	}
	if pos == nil || pos.Liquidity.Sign() == 0 {
		e.logger.Printf("[executor] position %d has no liquidity, skipping", tokenID)
		return nil, nil
	}

	return [][]byte{
		chain.DecreaseLiquidityCalldata(tokenID, pos.Liquidity, deadline),
		chain.CollectCalldata(tokenID, e.cfg.WalletAddress),
		chain.BurnCalldata(tokenID),
	}, nil
}
