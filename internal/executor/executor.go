// Package executor runs verified intents against the chain: one procedure
// per action, a shared submission path, and the cross-cutting retry and
// failure-classification policy.
package executor

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"clmm-agent/internal/activity"
	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/intent"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/position"
	"clmm-agent/internal/service"
	"clmm-agent/internal/storage"
)

// ChainReader is the chain read surface the executor needs.
type ChainReader interface {
	PoolState(ctx context.Context, pool string) (*chain.PoolState, error)
	Position(ctx context.Context, manager string, tokenID uint64) (*chain.PositionData, error)
	OwnerOf(ctx context.Context, manager string, tokenID uint64) (string, error)
	BalanceOf(ctx context.Context, token, owner string) (*uint256.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*uint256.Int, error)
	GasPrice(ctx context.Context) (*uint256.Int, error)
}

// TxExecutor signs, submits and confirms one transaction.
type TxExecutor interface {
	Execute(ctx context.Context, tx chain.TxRequest, route chain.Route) (*chain.Receipt, error)
}

// ServiceAPI is the remote decision service surface the executor needs.
type ServiceAPI interface {
	TierAllocations(ctx context.Context) (*service.Allocations, error)
	RebalanceBundle(ctx context.Context, req service.BundleRequest) (*service.RebalanceBundle, error)
	ReopenTx(ctx context.Context, req service.ReopenRequest) (*chain.TxRequest, error)
	LogicPurchaseTx(ctx context.Context, orderID string) (*chain.TxRequest, error)
	ReportResult(ctx context.Context, result *domain.ExecutionResult) error
}

// SwapQuoter fetches assembled swap transactions from the aggregator.
type SwapQuoter interface {
	Quote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error)
}

// Config holds the executor's chain addressing and thresholds.
type Config struct {
	PoolAddress    string
	ManagerAddress string
	WalletAddress  string
	Token0         string
	Token1         string
	Token0Decimals int
	Token1Decimals int
	PoolFee        uint64
	TickSpacing    int32

	// MinPositionUSD is the advisory floor below which a tier is skipped.
	MinPositionUSD float64
	// MintDeadline is how far in the future mint/decrease deadlines sit.
	MintDeadline time.Duration
	// TransientRetryDelay is the fixed delay before the single transient
	// retry of a whole intent.
	TransientRetryDelay time.Duration
	// DefaultSlippageBps applies when neither recipe nor constraints set one.
	DefaultSlippageBps int
}

func (c *Config) withDefaults() {
	if c.TickSpacing <= 0 {
		c.TickSpacing = 60
	}
	if c.MinPositionUSD <= 0 {
		c.MinPositionUSD = 10
	}
	if c.MintDeadline <= 0 {
		c.MintDeadline = 10 * time.Minute
	}
	if c.TransientRetryDelay <= 0 {
		c.TransientRetryDelay = 5 * time.Second
	}
	if c.DefaultSlippageBps <= 0 {
		c.DefaultSlippageBps = 50
	}
}

// Options are the executor's collaborators.
type Options struct {
	Config   Config
	Chain    ChainReader
	Submit   TxExecutor
	Service  ServiceAPI
	Quoter   SwapQuoter
	Tracker  *position.Tracker
	Queue    *intent.Queue
	Receipts storage.ReceiptStore // optional journal
	Activity *activity.Stream
	Logger   *log.Logger
}

// Executor drains the intent queue and executes one intent at a time.
type Executor struct {
	cfg      Config
	chain    ChainReader
	submit   TxExecutor
	svc      ServiceAPI
	quoter   SwapQuoter
	tracker  *position.Tracker
	queue    *intent.Queue
	gate     *intent.Gate
	receipts storage.ReceiptStore
	activity *activity.Stream
	logger   *log.Logger
	now      func() time.Time

	retry RetryPolicy

	// lastPrices are the advisory USD prices from the latest allocations
	// response, used only for minimum-value checks.
	lastPrices struct {
		token0 float64
		token1 float64
	}
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Chain == nil || opts.Submit == nil || opts.Service == nil {
		return nil, fmt.Errorf("executor requires chain, submit and service collaborators")
	}
	cfg := opts.Config
	cfg.withDefaults()
	if opts.Tracker == nil {
		opts.Tracker = position.NewTracker()
	}
	if opts.Queue == nil {
		opts.Queue = intent.NewQueue()
	}
	if opts.Activity == nil {
		opts.Activity = activity.NewStream(opts.Logger, nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	e := &Executor{
		cfg:      cfg,
		chain:    opts.Chain,
		submit:   opts.Submit,
		svc:      opts.Service,
		quoter:   opts.Quoter,
		tracker:  opts.Tracker,
		queue:    opts.Queue,
		gate:     &intent.Gate{},
		receipts: opts.Receipts,
		activity: opts.Activity,
		logger:   opts.Logger,
		now:      time.Now,
	}
	e.retry = RetryPolicy{
		MaxAttempts: 2,
		Delay:       cfg.TransientRetryDelay,
		Retryable:   func(c Class) bool { return c == ClassTransient },
	}
	return e, nil
}

// Tracker exposes the position tracker shared with the grace monitor.
func (e *Executor) Tracker() *position.Tracker {
	return e.tracker
}

// Queue exposes the intent queue for the intake loops.
func (e *Executor) Queue() *intent.Queue {
	return e.queue
}

// Run drains the queue until the context is cancelled. The in-flight intent
// finishes before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	for {
		in, err := e.queue.Pop(ctx)
		if err != nil {
			return err
		}
		observability.UpdateQueueDepth(e.queue.Len())

		// The in-flight intent is detached from the shutdown signal: a
		// half-executed multi-step sequence is worse than a slow exit.
		execCtx := context.WithoutCancel(ctx)
		e.gate.Do(func() {
			e.Process(execCtx, in)
		})
	}
}

// Process executes one intent to a terminal outcome and reports it. The
// group key is computed here so a future concurrent drain can partition
// safely; execution itself is strictly sequential behind the gate.
func (e *Executor) Process(ctx context.Context, in *domain.SignedIntent) *domain.ExecutionResult {
	started := e.now()
	e.logger.Printf("[executor] %s %s group=%s", in.Action, in.IntentID, intent.GroupKey(in))

	result := e.execute(ctx, in)
	result.IntentID = in.IntentID
	result.Action = in.Action
	if result.FinishedAt == 0 {
		result.FinishedAt = e.now().Unix()
	}

	e.report(ctx, result)
	observability.RecordIntentExecuted(string(in.Action), string(result.Status), e.now().Sub(started).Seconds())
	return result
}

// execute dispatches to the per-action procedure and applies the transient
// once-retry rule (REBALANCE carries its own escalation ladder instead).
func (e *Executor) execute(ctx context.Context, in *domain.SignedIntent) *domain.ExecutionResult {
	if res := e.gasGate(ctx, in); res != nil {
		return res
	}

	var result *domain.ExecutionResult
	policy := e.retry
	if in.Action == domain.ActionRebalance {
		policy.MaxAttempts = 1
	}

	attempts, err := policy.Run(ctx, func(ctx context.Context) error {
		res, err := e.dispatch(ctx, in)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err == nil && result.Attempts == 0 {
		result.Attempts = attempts
	}
	if err != nil {
		class := Classify(err)
		e.activity.Error(domain.EventExecutionError, in.IntentID, 0, "%s failed (%s): %v", in.Action, class, err)
		return &domain.ExecutionResult{
			Status:   domain.StatusFailed,
			Reason:   fmt.Sprintf("%s: %v", class, err),
			Attempts: attempts,
		}
	}
	return result
}

// dispatch is the exhaustive action switch. Recipes were validated at
// verification time; an unhandled action here is a hard failure, never a
// silent default.
func (e *Executor) dispatch(ctx context.Context, in *domain.SignedIntent) (*domain.ExecutionResult, error) {
	recipe, err := in.DecodeRecipe()
	if err != nil {
		return nil, err
	}
	switch r := recipe.(type) {
	case *domain.DeployRecipe:
		return e.executeDeploy(ctx, in, r.EnabledTiers, false)
	case *domain.RebalanceRecipe:
		return e.executeRebalance(ctx, in, r)
	case *domain.BatchWithdrawRecipe:
		return e.executeBatchWithdraw(ctx, in, r)
	case *domain.IdleSweepRecipe:
		return e.executeIdleSweep(ctx, in, r)
	case *domain.CollectFeesRecipe:
		return e.executeCollect(ctx, in, r)
	case *domain.SwapTokensRecipe:
		return e.executeSwap(ctx, in, r)
	case *domain.LogicPurchaseRecipe:
		return e.executeLogicPurchase(ctx, in, r)
	default:
		return nil, fmt.Errorf("unknown intent action %q", in.Action)
	}
}

// gasGate skips execution when the node gas price exceeds the intent's
// declared cap. Skipping is cheaper than a guaranteed overpriced failure.
func (e *Executor) gasGate(ctx context.Context, in *domain.SignedIntent) *domain.ExecutionResult {
	if in.Constraints == nil || in.Constraints.MaxGasPriceWei == 0 {
		return nil
	}
	price, err := e.chain.GasPrice(ctx)
	if err != nil {
		// Advisory check only; execution proceeds and fails on its own terms.
		e.logger.Printf("[executor] gas price read failed: %v", err)
		return nil
	}
	if price.CmpUint64(in.Constraints.MaxGasPriceWei) > 0 {
		reason := fmt.Sprintf("gas price %s above intent cap %d", price.Dec(), in.Constraints.MaxGasPriceWei)
		observability.RecordSkipped("gas_cap")
		return &domain.ExecutionResult{Status: domain.StatusSkipped, Reason: reason}
	}
	return nil
}

// report delivers a terminal result to the service, the journal and the
// activity stream. Reporting failures never roll back the chain action.
func (e *Executor) report(ctx context.Context, result *domain.ExecutionResult) {
	if err := e.svc.ReportResult(ctx, result); err != nil {
		observability.RecordServiceError("receipts")
		e.logger.Printf("[executor] receipt report failed for %s: %v", result.IntentID, err)
	}
	if e.receipts != nil {
		if err := e.receipts.Insert(ctx, result); err != nil {
			e.logger.Printf("[executor] receipt journal failed for %s: %v", result.IntentID, err)
		}
	}

	switch result.Status {
	case domain.StatusCompleted:
		e.activity.Info("", result.IntentID, 0, "%s completed (%d txs)", result.Action, len(result.TxHashes))
	case domain.StatusSkipped:
		e.activity.Info("", result.IntentID, 0, "%s skipped: %s", result.Action, result.Reason)
	case domain.StatusPartial:
		e.activity.Warn(domain.EventExecutionError, result.IntentID, 0, "%s partial: %s", result.Action, result.Reason)
	case domain.StatusFailed:
		e.activity.Error(domain.EventExecutionError, result.IntentID, 0, "%s failed: %s", result.Action, result.Reason)
	}
}

// slippageFor resolves the effective slippage tolerance for an intent.
func (e *Executor) slippageFor(in *domain.SignedIntent, recipeBps int) int {
	if recipeBps > 0 {
		return recipeBps
	}
	if in.Constraints != nil && in.Constraints.MaxSlippageBps > 0 {
		return in.Constraints.MaxSlippageBps
	}
	return e.cfg.DefaultSlippageBps
}

// deadline returns the unix deadline for manager calls.
func (e *Executor) deadline() uint64 {
	return uint64(e.now().Add(e.cfg.MintDeadline).Unix())
}

// ensureAllowance tops up an ERC-20 allowance when the current value cannot
// cover amount. Returns the approval receipt when one was submitted.
func (e *Executor) ensureAllowance(ctx context.Context, token, spender string, amount *big.Int) (*chain.Receipt, error) {
	current, err := e.chain.Allowance(ctx, token, e.cfg.WalletAddress, spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if current.ToBig().Cmp(amount) >= 0 {
		return nil, nil
	}

	data := chain.ApproveCalldata(spender, amount)
	rec, err := e.submit.Execute(ctx, chain.TxRequest{To: token, Data: chain.HexCalldata(data)}, chain.RouteDirect)
	if err != nil {
		return nil, fmt.Errorf("approve %s for %s: %w", token, spender, err)
	}
	return rec, nil
}

// appendReceipt accumulates a confirmed receipt into a result under
// construction.
func appendReceipt(result *domain.ExecutionResult, rec *chain.Receipt) {
	result.TxHashes = append(result.TxHashes, rec.TxHash)
	result.BlockNumbers = append(result.BlockNumbers, rec.BlockNumber)
	result.GasUsed += rec.GasUsed
	observability.RecordTxSubmitted("confirmed")
}
