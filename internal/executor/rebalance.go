package executor

import (
	"context"
	"errors"
	"fmt"

	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/service"
)

// slippageLadder is the escalating tolerance schedule in basis points.
// The ladder advances only on slippage-classified failures; transient
// failures retry the same rung.
var slippageLadder = []int{20, 50, 100, 300, 500}

// maxRebalanceAttempts caps the ladder. A sixth attempt never happens.
const maxRebalanceAttempts = 5

// errDriftedInRange aborts a rebalance mid-sequence when the position moved
// back inside its tick range. Funds stay in the wallet; nothing further
// executes.
var errDriftedInRange = errors.New("position drifted back in range")

// rebalanceStage is the confirmed on-chain progress of one rebalance. Stages
// only advance on confirmed receipts, never on submission alone.
type rebalanceStage int

const (
	stageNotStarted rebalanceStage = iota
	stageClosed
	stageSwapped
	stageReopened
)

// rebalanceState carries the FSM stage and the cached service bundle across
// ladder attempts.
type rebalanceState struct {
	stage  rebalanceStage
	bundle *service.RebalanceBundle
	// reopen is the refreshed reopen transaction after the swap moved price.
	reopen *chain.TxRequest

	// Original tick range of the position, captured before the close: the
	// drift-back check needs it after the position itself is gone.
	origLower, origUpper int32

	result *domain.ExecutionResult
}

// executeRebalance closes an out-of-range position, swaps to rebalance the
// token ratio, and reopens in the new range, escalating slippage tolerance
// across the ladder.
func (e *Executor) executeRebalance(ctx context.Context, in *domain.SignedIntent, r *domain.RebalanceRecipe) (*domain.ExecutionResult, error) {
	ok, reason := e.tracker.Acquire(r.TokenID)
	if !ok {
		observability.RecordSkipped(reason)
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: reason}, nil
	}

	st := &rebalanceState{result: &domain.ExecutionResult{}}
	result := e.runRebalanceLadder(ctx, in, r, st)

	// The closed set records confirmed on-chain closes only. A close that
	// confirmed is final even when the reopen never happened; anything less
	// releases the claim for a future fresh intent.
	if st.stage >= stageClosed {
		e.tracker.MarkClosed(r.TokenID)
		observability.DefaultMetrics.PositionsClosed.Inc()
	} else {
		e.tracker.Release(r.TokenID)
	}
	return result, nil
}

// runRebalanceLadder drives attempts until completion, drift-back, a
// permanent failure or exhaustion.
func (e *Executor) runRebalanceLadder(ctx context.Context, in *domain.SignedIntent, r *domain.RebalanceRecipe, st *rebalanceState) *domain.ExecutionResult {
	// Pre-flight: the position must still exist and still be out of range.
	pos, err := e.chain.Position(ctx, e.cfg.ManagerAddress, r.TokenID)
	if err != nil {
		st.result.Status = domain.StatusFailed
		st.result.Reason = fmt.Sprintf("read position: %v", err)
		return st.result
	}
	if pos == nil {
		st.result.Status = domain.StatusSkipped
		st.result.Reason = "position no longer exists on-chain"
		observability.RecordSkipped("position_gone")
		return st.result
	}
	st.origLower, st.origUpper = pos.TickLower, pos.TickUpper

	inRange, err := e.positionInRange(ctx, st)
	if err != nil {
		st.result.Status = domain.StatusFailed
		st.result.Reason = fmt.Sprintf("read pool state: %v", err)
		return st.result
	}
	if inRange {
		st.result.Status = domain.StatusSkipped
		st.result.Reason = "position back in range"
		observability.RecordSkipped("in_range")
		return st.result
	}

	rung := 0
	for attempt := 1; attempt <= maxRebalanceAttempts; attempt++ {
		st.result.Attempts = attempt

		// The pool can drift back between attempts. Until the close has
		// confirmed nothing is committed, so a retry re-verifies the range
		// and cancels outright instead of destroying a healthy position.
		if attempt > 1 && st.stage == stageNotStarted {
			inRange, err := e.positionInRange(ctx, st)
			if err != nil {
				st.result.Status = domain.StatusFailed
				st.result.Reason = fmt.Sprintf("read pool state: %v", err)
				return st.result
			}
			if inRange {
				st.result.Status = domain.StatusSkipped
				st.result.Reason = "position back in range"
				observability.RecordSkipped("in_range")
				return st.result
			}
		}

		err := e.rebalanceAttempt(ctx, r, st, slippageLadder[rung])
		if err == nil {
			st.result.Status = domain.StatusCompleted
			observability.RecordRebalanceAttempts(attempt)
			e.activity.Info(domain.EventPositionRebalanced, in.IntentID, r.TokenID, "rebalanced position %d in %d attempts", r.TokenID, attempt)
			return st.result
		}
		if errors.Is(err, errDriftedInRange) {
			st.result.Status = domain.StatusPartial
			st.result.Reason = fmt.Sprintf("drifted back in range after %d txs; remaining steps aborted", st.result.CompletedTxs())
			observability.RecordRebalanceAttempts(attempt)
			return st.result
		}

		class := Classify(err)
		e.logger.Printf("[executor] rebalance %d attempt %d at %d bps failed (%s): %v", r.TokenID, attempt, slippageLadder[rung], class, err)
		if class == ClassPermanent {
			st.result.Status = domain.StatusFailed
			st.result.Reason = fmt.Sprintf("permanent: %v", err)
			observability.RecordRebalanceAttempts(attempt)
			return st.result
		}
		if class == ClassSlippage && rung < len(slippageLadder)-1 {
			rung++
		}
		st.result.Reason = fmt.Sprintf("attempts exhausted: %v", err)
	}

	st.result.Status = domain.StatusFailed
	observability.RecordRebalanceAttempts(maxRebalanceAttempts)
	return st.result
}

// rebalanceAttempt runs one pass of the close/swap/reopen sequence, resuming
// from the confirmed stage. The in-range re-check runs before every
// transaction after the first.
func (e *Executor) rebalanceAttempt(ctx context.Context, r *domain.RebalanceRecipe, st *rebalanceState, slippageBps int) error {
	if st.bundle == nil {
		bundle, err := e.svc.RebalanceBundle(ctx, service.BundleRequest{
			TokenID:     r.TokenID,
			TickLower:   r.TickLower,
			TickUpper:   r.TickUpper,
			SlippageBps: slippageBps,
		})
		if err != nil {
			observability.RecordServiceError("tx/rebalance")
			return fmt.Errorf("request rebalance bundle: %w", err)
		}
		if bundle.Close == nil || bundle.Reopen == nil {
			return fmt.Errorf("rebalance bundle incomplete")
		}
		st.bundle = bundle
	}

	if st.stage < stageClosed {
		rec, err := e.submit.Execute(ctx, *st.bundle.Close, chain.RouteDirect)
		if err != nil {
			observability.RecordTxSubmitted("failed")
			return fmt.Errorf("close position %d: %w", r.TokenID, err)
		}
		appendReceipt(st.result, rec)
		st.stage = stageClosed
	}

	if st.stage < stageSwapped {
		if err := e.checkDriftBack(ctx, st); err != nil {
			return err
		}
		if st.bundle.NeedsSwap() {
			if err := e.rebalanceSwap(ctx, r, st, slippageBps); err != nil {
				return err
			}
		}
		st.stage = stageSwapped
	}

	if st.stage < stageReopened {
		if err := e.checkDriftBack(ctx, st); err != nil {
			return err
		}
		reopen := st.bundle.Reopen
		if st.reopen != nil {
			reopen = st.reopen
		}
		rec, err := e.submit.Execute(ctx, *reopen, chain.RouteDirect)
		if err != nil {
			observability.RecordTxSubmitted("failed")
			return fmt.Errorf("reopen position: %w", err)
		}
		appendReceipt(st.result, rec)
		if tokenID, ok := chain.MintedTokenID(rec); ok {
			st.result.OpenedTokenIDs = append(st.result.OpenedTokenIDs, tokenID)
			observability.DefaultMetrics.PositionsOpened.Inc()
		}
		st.stage = stageReopened
	}
	return nil
}

// rebalanceSwap executes the bundle's rebalancing swap through the
// aggregator, then refreshes the reopen transaction: the close+swap sequence
// moves price, invalidating the pre-computed reopen parameters.
func (e *Executor) rebalanceSwap(ctx context.Context, r *domain.RebalanceRecipe, st *rebalanceState, slippageBps int) error {
	if e.quoter == nil {
		return fmt.Errorf("rebalance requires a swap but no aggregator is configured")
	}
	swap := st.bundle.Swap

	quote, err := e.quoter.Quote(ctx, aggregator.QuoteRequest{
		TokenIn:     swap.TokenIn,
		TokenOut:    swap.TokenOut,
		AmountIn:    swap.AmountIn,
		SlippageBps: slippageBps,
		Recipient:   e.cfg.WalletAddress,
	})
	if err != nil {
		return fmt.Errorf("swap quote: %w", err)
	}

	amountIn, err := parseAmount(swap.AmountIn)
	if err != nil {
		return fmt.Errorf("bundle swap amount: %w", err)
	}
	if rec, err := e.ensureAllowance(ctx, swap.TokenIn, quote.Spender, amountIn); err != nil {
		return err
	} else if rec != nil {
		appendReceipt(st.result, rec)
	}

	rec, err := e.submit.Execute(ctx, quote.Tx, chain.RouteDirect)
	if err != nil {
		observability.RecordTxSubmitted("failed")
		return fmt.Errorf("rebalance swap: %w", err)
	}
	appendReceipt(st.result, rec)

	pool, err := e.chain.PoolState(ctx, e.cfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("read pool state after swap: %w", err)
	}
	reopen, err := e.svc.ReopenTx(ctx, service.ReopenRequest{
		TokenID:     r.TokenID,
		CurrentTick: pool.Tick,
		SlippageBps: slippageBps,
	})
	if err != nil {
		observability.RecordServiceError("tx/reopen")
		return fmt.Errorf("refresh reopen tx: %w", err)
	}
	st.reopen = reopen
	return nil
}

// checkDriftBack aborts the sequence when the pool tick moved back inside
// the original position range.
func (e *Executor) checkDriftBack(ctx context.Context, st *rebalanceState) error {
	inRange, err := e.positionInRange(ctx, st)
	if err != nil {
		return err
	}
	if inRange {
		return errDriftedInRange
	}
	return nil
}

// positionInRange reads the current pool tick and compares it against the
// original position range.
func (e *Executor) positionInRange(ctx context.Context, st *rebalanceState) (bool, error) {
	pool, err := e.chain.PoolState(ctx, e.cfg.PoolAddress)
	if err != nil {
		return false, fmt.Errorf("read pool state: %w", err)
	}
	return pool.Tick >= st.origLower && pool.Tick < st.origUpper, nil
}
