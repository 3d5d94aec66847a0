package executor

import (
	"context"
	"fmt"

	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
)

// executeLogicPurchase submits a service-built purchase transaction through
// the execution proxy. The transaction is opaque to the engine: only
// policy-gated, routed and confirmed here.
func (e *Executor) executeLogicPurchase(ctx context.Context, in *domain.SignedIntent, r *domain.LogicPurchaseRecipe) (*domain.ExecutionResult, error) {
	if r.OrderID == "" {
		return nil, fmt.Errorf("logic purchase without order id")
	}

	tx, err := e.svc.LogicPurchaseTx(ctx, r.OrderID)
	if err != nil {
		observability.RecordServiceError("tx/logic-purchase")
		return nil, fmt.Errorf("fetch purchase tx: %w", err)
	}
	if tx == nil || tx.Data == "" || tx.Data == "0x" {
		return nil, fmt.Errorf("service returned empty purchase tx for order %s", r.OrderID)
	}

	rec, err := e.submit.Execute(ctx, *tx, chain.RouteProxy)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return nil, fmt.Errorf("execute purchase %s: %w", r.OrderID, err)
	}

	result := &domain.ExecutionResult{Status: domain.StatusCompleted}
	appendReceipt(result, rec)
	e.activity.Info("", in.IntentID, 0, "purchase order %s confirmed: %s", r.OrderID, rec.TxHash)
	return result, nil
}
