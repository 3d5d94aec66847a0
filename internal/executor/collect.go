package executor

import (
	"context"
	"fmt"

	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/position"
)

// executeCollect harvests everything owed to one position without touching
// its liquidity.
func (e *Executor) executeCollect(ctx context.Context, in *domain.SignedIntent, r *domain.CollectFeesRecipe) (*domain.ExecutionResult, error) {
	if e.tracker.IsClosed(r.TokenID) {
		observability.RecordSkipped(position.ReasonAlreadyClosed)
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: position.ReasonAlreadyClosed}, nil
	}

	rec, err := e.HarvestFees(ctx, r.TokenID)
	if err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{Status: domain.StatusCompleted}
	appendReceipt(result, rec)
	e.activity.Info(domain.EventFeesCollected, in.IntentID, r.TokenID, "collected fees for position %d", r.TokenID)
	return result, nil
}

// HarvestFees submits a harvest-only collect for one position. The grace
// period monitor shares this path so its claim races the rebalance through
// the same submission machinery.
func (e *Executor) HarvestFees(ctx context.Context, tokenID uint64) (*chain.Receipt, error) {
	pos, err := e.chain.Position(ctx, e.cfg.ManagerAddress, tokenID)
	if err != nil {
		return nil, fmt.Errorf("read position %d: %w", tokenID, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("position %d no longer exists", tokenID)
	}

	data := chain.CollectCalldata(tokenID, e.cfg.WalletAddress)
	rec, err := e.submit.Execute(ctx, chain.TxRequest{To: e.cfg.ManagerAddress, Data: chain.HexCalldata(data)}, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return nil, fmt.Errorf("collect for %d: %w", tokenID, err)
	}
	return rec, nil
}
