package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/clmath"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/position"
	"clmm-agent/internal/service"
)

const (
	testPool    = "0x1111111111111111111111111111111111111111"
	testManager = "0x2222222222222222222222222222222222222222"
	testWallet  = "0x3333333333333333333333333333333333333333"
	testToken0  = "0x4444444444444444444444444444444444444444"
	testToken1  = "0x5555555555555555555555555555555555555555"
	testSpender = "0x6666666666666666666666666666666666666666"
)

// ERC-721 Transfer topic for fabricating mint receipts.
const testTransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

type fakeChain struct {
	ticks     []int32 // consumed per PoolState call; last repeats
	tickCalls int
	positions map[uint64]*chain.PositionData
	owners    map[uint64]string
	balances  map[string]*uint256.Int
	allowance *uint256.Int
	gasPrice  *uint256.Int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		ticks:     []int32{0},
		positions: map[uint64]*chain.PositionData{},
		owners:    map[uint64]string{},
		balances:  map[string]*uint256.Int{},
		allowance: uint256.MustFromDecimal("999999999999999999999999999999"),
		gasPrice:  uint256.NewInt(1000000000),
	}
}

func (f *fakeChain) PoolState(ctx context.Context, pool string) (*chain.PoolState, error) {
	idx := f.tickCalls
	if idx >= len(f.ticks) {
		idx = len(f.ticks) - 1
	}
	f.tickCalls++
	tick := f.ticks[idx]
	sqrt, err := clmath.SqrtPriceAtTick(tick)
	if err != nil {
		return nil, err
	}
	return &chain.PoolState{SqrtPriceX96: sqrt, Tick: tick}, nil
}

func (f *fakeChain) Position(ctx context.Context, manager string, tokenID uint64) (*chain.PositionData, error) {
	return f.positions[tokenID], nil
}

func (f *fakeChain) OwnerOf(ctx context.Context, manager string, tokenID uint64) (string, error) {
	owner, ok := f.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("owner query for nonexistent token %d", tokenID)
	}
	return owner, nil
}

func (f *fakeChain) BalanceOf(ctx context.Context, token, owner string) (*uint256.Int, error) {
	if b, ok := f.balances[token]; ok {
		return b, nil
	}
	return uint256.NewInt(0), nil
}

func (f *fakeChain) Allowance(ctx context.Context, token, owner, spender string) (*uint256.Int, error) {
	return f.allowance, nil
}

func (f *fakeChain) GasPrice(ctx context.Context) (*uint256.Int, error) {
	return f.gasPrice, nil
}

type submitCall struct {
	tx    chain.TxRequest
	route chain.Route
}

type fakeSubmitter struct {
	calls []submitCall
	// respond overrides the default always-succeed behavior; call index is
	// zero-based.
	respond func(i int, tx chain.TxRequest) (*chain.Receipt, error)
}

func (f *fakeSubmitter) Execute(ctx context.Context, tx chain.TxRequest, route chain.Route) (*chain.Receipt, error) {
	i := len(f.calls)
	f.calls = append(f.calls, submitCall{tx: tx, route: route})
	if f.respond != nil {
		return f.respond(i, tx)
	}
	return okReceipt(i), nil
}

func okReceipt(i int) *chain.Receipt {
	return &chain.Receipt{
		TxHash:      fmt.Sprintf("0xtx%04d", i),
		Status:      1,
		BlockNumber: uint64(100 + i),
		GasUsed:     21000,
	}
}

// mintReceipt fabricates a confirmed receipt whose Transfer-from-zero log
// carries the given freshly minted token id.
func mintReceipt(i int, tokenID uint64) *chain.Receipt {
	rec := okReceipt(i)
	rec.Logs = []chain.Log{{
		Address: testManager,
		Topics: []string{
			testTransferTopic,
			fmt.Sprintf("0x%064x", 0),
			fmt.Sprintf("0x%064x", new(big.Int).SetBytes([]byte{0x33})),
			fmt.Sprintf("0x%064x", tokenID),
		},
	}}
	return rec
}

type fakeService struct {
	alloc      *service.Allocations
	bundle     *service.RebalanceBundle
	reopen     *chain.TxRequest
	purchaseTx *chain.TxRequest
	reported   []*domain.ExecutionResult
}

func (f *fakeService) TierAllocations(ctx context.Context) (*service.Allocations, error) {
	if f.alloc == nil {
		return nil, errors.New("no allocations configured")
	}
	return f.alloc, nil
}

func (f *fakeService) RebalanceBundle(ctx context.Context, req service.BundleRequest) (*service.RebalanceBundle, error) {
	if f.bundle == nil {
		return nil, errors.New("no bundle configured")
	}
	return f.bundle, nil
}

func (f *fakeService) ReopenTx(ctx context.Context, req service.ReopenRequest) (*chain.TxRequest, error) {
	if f.reopen == nil {
		return nil, errors.New("no reopen configured")
	}
	return f.reopen, nil
}

func (f *fakeService) LogicPurchaseTx(ctx context.Context, orderID string) (*chain.TxRequest, error) {
	return f.purchaseTx, nil
}

func (f *fakeService) ReportResult(ctx context.Context, result *domain.ExecutionResult) error {
	f.reported = append(f.reported, result)
	return nil
}

type fakeQuoter struct {
	askedBps []int
	err      error
}

func (f *fakeQuoter) Quote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error) {
	f.askedBps = append(f.askedBps, req.SlippageBps)
	if f.err != nil {
		return nil, f.err
	}
	return &aggregator.Quote{
		Tx:        chain.TxRequest{To: testSpender, Data: "0xdeadbeef"},
		AmountOut: "12345",
		Spender:   testSpender,
	}, nil
}

func newTestExecutor(t *testing.T, ch *fakeChain, sub *fakeSubmitter, svc *fakeService, q *fakeQuoter) *Executor {
	t.Helper()
	e, err := New(Options{
		Config: Config{
			PoolAddress:    testPool,
			ManagerAddress: testManager,
			WalletAddress:  testWallet,
			Token0:         testToken0,
			Token1:         testToken1,
			Token0Decimals: 18,
			Token1Decimals: 6,
			PoolFee:        3000,
			TickSpacing:    60,
			MinPositionUSD: 1,
		},
		Chain:   ch,
		Submit:  sub,
		Service: svc,
		Quoter:  q,
	})
	require.NoError(t, err)
	e.retry.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func rebalanceIntent(id string, tokenID uint64) *domain.SignedIntent {
	return &domain.SignedIntent{
		IntentID: id,
		Action:   domain.ActionRebalance,
		Recipe:   []byte(fmt.Sprintf(`{"tokenId":%d,"tickLower":-120,"tickUpper":120}`, tokenID)),
	}
}

func outOfRangePosition(tokenID uint64) *chain.PositionData {
	// Range well above tick 0 so the fake pool reads as out of range.
	return &chain.PositionData{
		TokenID:   tokenID,
		TickLower: 600,
		TickUpper: 1200,
		Liquidity: big.NewInt(1_000_000),
	}
}

func TestRebalance_IdempotentSkipOnClosed(t *testing.T) {
	ch := newFakeChain()
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	e.Tracker().MarkClosed(7)

	for i := 0; i < 3; i++ {
		res := e.Process(context.Background(), rebalanceIntent(fmt.Sprintf("i%d", i), 7))
		assert.Equal(t, domain.StatusSkipped, res.Status)
		assert.Equal(t, position.ReasonAlreadyClosed, res.Reason)
	}
	assert.Empty(t, sub.calls, "closed position must never reach the chain")
	assert.Len(t, svc.reported, 3)
}

func TestRebalance_SkipWhileProcessing(t *testing.T) {
	ch := newFakeChain()
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	ok, _ := e.Tracker().Acquire(9)
	require.True(t, ok)

	res := e.Process(context.Background(), rebalanceIntent("i1", 9))
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, position.ReasonAlreadyProcessing, res.Reason)
	assert.Empty(t, sub.calls)
}

func TestRebalance_SkipWhenBackInRange(t *testing.T) {
	ch := newFakeChain()
	ch.positions[7] = &chain.PositionData{TokenID: 7, TickLower: -120, TickUpper: 120, Liquidity: big.NewInt(1)}
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), rebalanceIntent("i1", 7))
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, "position back in range", res.Reason)
	assert.Empty(t, sub.calls)
	assert.False(t, e.Tracker().IsClosed(7), "cancelled rebalance releases the claim")
}

func TestRebalance_EscalationExhaustion(t *testing.T) {
	ch := newFakeChain()
	ch.positions[7] = outOfRangePosition(7)
	svc := &fakeService{
		bundle: &service.RebalanceBundle{
			Close:  &chain.TxRequest{To: testManager, Data: "0x01"},
			Reopen: &chain.TxRequest{To: testManager, Data: "0x02"},
			Swap:   &service.SwapSpec{TokenIn: testToken0, TokenOut: testToken1, AmountIn: "1000"},
		},
	}
	q := &fakeQuoter{}
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		if i == 0 {
			return okReceipt(i), nil // close confirms
		}
		return nil, errors.New("execution reverted: price slippage check")
	}
	e := newTestExecutor(t, ch, sub, svc, q)

	res := e.Process(context.Background(), rebalanceIntent("i1", 7))
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, maxRebalanceAttempts, res.Attempts)
	assert.Equal(t, slippageLadder, q.askedBps, "each attempt escalates one rung")
	assert.True(t, e.Tracker().IsClosed(7), "confirmed close is final even after reopen failure")
}

func TestRebalance_PartialOnDriftBack(t *testing.T) {
	ch := newFakeChain()
	ch.positions[7] = outOfRangePosition(7)
	// Out of range for the pre-flight check, back inside [600, 1200) before
	// the post-close re-check.
	ch.ticks = []int32{0, 700}
	svc := &fakeService{
		bundle: &service.RebalanceBundle{
			Close:  &chain.TxRequest{To: testManager, Data: "0x01"},
			Reopen: &chain.TxRequest{To: testManager, Data: "0x02"},
			Swap:   &service.SwapSpec{TokenIn: testToken0, TokenOut: testToken1, AmountIn: "1000"},
		},
	}
	sub := &fakeSubmitter{}
	e := newTestExecutor(t, ch, sub, svc, &fakeQuoter{})

	res := e.Process(context.Background(), rebalanceIntent("i1", 7))
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, 1, res.CompletedTxs())
	assert.Len(t, sub.calls, 1, "nothing executes after the drift-back")
	assert.True(t, e.Tracker().IsClosed(7))
}

func TestRebalance_CancelsWhenDriftBackBeforeRetry(t *testing.T) {
	ch := newFakeChain()
	ch.positions[7] = outOfRangePosition(7)
	// Out of range for the pre-flight check, back inside [600, 1200) by the
	// time the failed close would be retried.
	ch.ticks = []int32{0, 700}
	svc := &fakeService{
		bundle: &service.RebalanceBundle{
			Close:  &chain.TxRequest{To: testManager, Data: "0x01"},
			Reopen: &chain.TxRequest{To: testManager, Data: "0x02"},
		},
	}
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		return nil, errors.New("request timeout")
	}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), rebalanceIntent("i1", 7))
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, "position back in range", res.Reason)
	assert.Len(t, sub.calls, 1, "a recovered position must not see the close resubmitted")
	assert.Zero(t, res.CompletedTxs())
	assert.False(t, e.Tracker().IsClosed(7), "nothing confirmed; the claim is released")
}

func TestRebalance_CompletesWithSwapAndRefreshedReopen(t *testing.T) {
	ch := newFakeChain()
	ch.positions[7] = outOfRangePosition(7)
	svc := &fakeService{
		bundle: &service.RebalanceBundle{
			Close:  &chain.TxRequest{To: testManager, Data: "0x01"},
			Reopen: &chain.TxRequest{To: testManager, Data: "0x02"},
			Swap:   &service.SwapSpec{TokenIn: testToken0, TokenOut: testToken1, AmountIn: "1000"},
		},
		reopen: &chain.TxRequest{To: testManager, Data: "0x03"},
	}
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		if tx.Data == "0x03" {
			return mintReceipt(i, 42), nil
		}
		return okReceipt(i), nil
	}
	e := newTestExecutor(t, ch, sub, svc, &fakeQuoter{})

	res := e.Process(context.Background(), rebalanceIntent("i1", 7))
	require.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, []uint64{42}, res.OpenedTokenIDs)
	assert.Equal(t, 1, res.Attempts)

	// close, swap, refreshed reopen (allowance was already ample).
	require.Len(t, sub.calls, 3)
	assert.Equal(t, "0x01", sub.calls[0].tx.Data)
	assert.Equal(t, "0xdeadbeef", sub.calls[1].tx.Data)
	assert.Equal(t, "0x03", sub.calls[2].tx.Data, "reopen must use the refreshed tx after the swap")
}

func TestDeploy_OpensTierPositions(t *testing.T) {
	ch := newFakeChain()
	ch.balances[testToken0] = uint256.MustFromDecimal("1000000000000000000000") // 1000 token0
	ch.balances[testToken1] = uint256.MustFromDecimal("2000000000")             // 2000 token1
	svc := &fakeService{
		alloc: &service.Allocations{
			Tiers: []domain.TierAllocation{
				{Tier: domain.TierHot, Percent: 0.5, RangeWidth: 300},
				{Tier: domain.TierWide, Percent: 0.5, RangeWidth: 24000},
			},
			Token0PriceUSD: 1,
			Token1PriceUSD: 1,
		},
	}
	var minted uint64 = 100
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		minted++
		return mintReceipt(i, minted), nil
	}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), &domain.SignedIntent{IntentID: "d1", Action: domain.ActionDeploy})
	require.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, []uint64{101, 102}, res.OpenedTokenIDs)
	assert.Len(t, sub.calls, 2)
	for _, c := range sub.calls {
		assert.Equal(t, testManager, c.tx.To)
		assert.Equal(t, chain.RouteDirect, c.route)
	}
}

func TestDeploy_CapsTierFanOut(t *testing.T) {
	ch := newFakeChain()
	ch.balances[testToken0] = uint256.MustFromDecimal("1000000000000000000000")
	ch.balances[testToken1] = uint256.MustFromDecimal("2000000000")
	var tiers []domain.TierAllocation
	for i := 0; i < 6; i++ {
		tiers = append(tiers, domain.TierAllocation{
			Tier:       domain.Tier(fmt.Sprintf("T%d", i)),
			Percent:    0.2,
			RangeWidth: 300 + int32(i)*600,
		})
	}
	svc := &fakeService{alloc: &service.Allocations{Tiers: tiers, Token0PriceUSD: 1, Token1PriceUSD: 1}}
	var minted uint64 = 300
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		minted++
		return mintReceipt(i, minted), nil
	}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), &domain.SignedIntent{IntentID: "d1", Action: domain.ActionDeploy})
	require.Equal(t, domain.StatusCompleted, res.Status)
	assert.Len(t, sub.calls, 5, "an oversized allocation response opens at most five positions")
	assert.Len(t, res.OpenedTokenIDs, 5)
}

func TestDeploy_ProceedsWhenPricesUnknown(t *testing.T) {
	ch := newFakeChain()
	ch.balances[testToken0] = uint256.MustFromDecimal("1000000000000000000000")
	ch.balances[testToken1] = uint256.MustFromDecimal("2000000000")
	// No prices in the response: the advisory USD floor cannot be evaluated
	// and must not veto the deploy.
	svc := &fakeService{
		alloc: &service.Allocations{
			Tiers: []domain.TierAllocation{{Tier: domain.TierHot, Percent: 1, RangeWidth: 300}},
		},
	}
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		return mintReceipt(i, 501), nil
	}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), &domain.SignedIntent{IntentID: "d1", Action: domain.ActionDeploy})
	require.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, []uint64{501}, res.OpenedTokenIDs)
}

func TestDeploy_PartialWhenLaterTierFails(t *testing.T) {
	ch := newFakeChain()
	ch.balances[testToken0] = uint256.MustFromDecimal("1000000000000000000000")
	ch.balances[testToken1] = uint256.MustFromDecimal("2000000000")
	svc := &fakeService{
		alloc: &service.Allocations{
			Tiers: []domain.TierAllocation{
				{Tier: domain.TierHot, Percent: 0.5, RangeWidth: 300},
				{Tier: domain.TierWide, Percent: 0.5, RangeWidth: 24000},
			},
			Token0PriceUSD: 1,
			Token1PriceUSD: 1,
		},
	}
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		if i == 0 {
			return mintReceipt(i, 201), nil
		}
		return nil, errors.New("nonce too low")
	}
	e := newTestExecutor(t, ch, sub, svc, nil)

	res := e.Process(context.Background(), &domain.SignedIntent{IntentID: "d1", Action: domain.ActionDeploy})
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, []uint64{201}, res.OpenedTokenIDs)
	assert.Contains(t, res.Reason, "WIDE")
}

func TestGasCap_SkipsExecution(t *testing.T) {
	ch := newFakeChain()
	ch.gasPrice = uint256.NewInt(200_000_000_000)
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := rebalanceIntent("i1", 7)
	in.Constraints = &domain.Constraints{MaxGasPriceWei: 100_000_000_000}

	res := e.Process(context.Background(), in)
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Contains(t, res.Reason, "gas price")
	assert.Empty(t, sub.calls)
}

func TestCollect_TransientFailureRetriedOnce(t *testing.T) {
	ch := newFakeChain()
	ch.positions[5] = outOfRangePosition(5)
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		if i == 0 {
			return nil, errors.New("request timeout")
		}
		return okReceipt(i), nil
	}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := &domain.SignedIntent{IntentID: "c1", Action: domain.ActionCollectFees, Recipe: []byte(`{"tokenId":5}`)}
	res := e.Process(context.Background(), in)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, sub.calls, 2)
}

func TestCollect_PermanentFailureNotRetried(t *testing.T) {
	ch := newFakeChain()
	ch.positions[5] = outOfRangePosition(5)
	sub := &fakeSubmitter{}
	sub.respond = func(i int, tx chain.TxRequest) (*chain.Receipt, error) {
		return nil, errors.New("invalid signature")
	}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := &domain.SignedIntent{IntentID: "c1", Action: domain.ActionCollectFees, Recipe: []byte(`{"tokenId":5}`)}
	res := e.Process(context.Background(), in)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "permanent")
	assert.Len(t, sub.calls, 1)
}

func TestBatchWithdraw_SkipsDeadPositionsSilently(t *testing.T) {
	ch := newFakeChain()
	ch.owners[1] = testWallet
	ch.owners[2] = "0x9999999999999999999999999999999999999999" // not ours
	ch.owners[3] = testWallet
	ch.positions[1] = &chain.PositionData{TokenID: 1, TickLower: -60, TickUpper: 60, Liquidity: big.NewInt(500)}
	ch.positions[3] = &chain.PositionData{TokenID: 3, TickLower: -60, TickUpper: 60, Liquidity: big.NewInt(0)} // drained
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := &domain.SignedIntent{IntentID: "w1", Action: domain.ActionBatchWithdraw, Recipe: []byte(`{"tokenIds":[1,2,3]}`)}
	res := e.Process(context.Background(), in)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Len(t, sub.calls, 1, "one multicall for the whole batch")
	assert.True(t, e.Tracker().IsClosed(1))
	assert.False(t, e.Tracker().IsClosed(2))
	assert.False(t, e.Tracker().IsClosed(3))
}

func TestBatchWithdraw_NothingToDo(t *testing.T) {
	ch := newFakeChain()
	ch.owners[1] = "0x9999999999999999999999999999999999999999"
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := &domain.SignedIntent{IntentID: "w1", Action: domain.ActionBatchWithdraw, Recipe: []byte(`{"tokenIds":[1]}`)}
	res := e.Process(context.Background(), in)
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Empty(t, sub.calls)
}

func TestSwap_SkipsOnInsufficientBalance(t *testing.T) {
	ch := newFakeChain()
	ch.balances[testToken0] = uint256.NewInt(10)
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, &fakeQuoter{})

	in := &domain.SignedIntent{
		IntentID: "s1",
		Action:   domain.ActionSwapTokens,
		Recipe:   []byte(fmt.Sprintf(`{"tokenIn":%q,"tokenOut":%q,"amountIn":"1000"}`, testToken0, testToken1)),
	}
	res := e.Process(context.Background(), in)
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Empty(t, sub.calls)
}

func TestLogicPurchase_RoutesThroughProxy(t *testing.T) {
	ch := newFakeChain()
	sub := &fakeSubmitter{}
	svc := &fakeService{purchaseTx: &chain.TxRequest{To: testManager, Data: "0xfeed"}}
	e := newTestExecutor(t, ch, sub, svc, nil)

	in := &domain.SignedIntent{IntentID: "l1", Action: domain.ActionLogicPurchase, Recipe: []byte(`{"orderId":"ord-9"}`)}
	res := e.Process(context.Background(), in)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Len(t, sub.calls, 1)
	assert.Equal(t, chain.RouteProxy, sub.calls[0].route)
}

func TestProcess_ReportsEveryTerminalOutcome(t *testing.T) {
	ch := newFakeChain()
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	e.Tracker().MarkClosed(7)
	e.Process(context.Background(), rebalanceIntent("i1", 7))

	require.Len(t, svc.reported, 1)
	assert.Equal(t, "i1", svc.reported[0].IntentID)
	assert.Equal(t, domain.ActionRebalance, svc.reported[0].Action)
	assert.NotZero(t, svc.reported[0].FinishedAt)
}

func TestRun_DrainsQueueInOrder(t *testing.T) {
	ch := newFakeChain()
	sub := &fakeSubmitter{}
	svc := &fakeService{}
	e := newTestExecutor(t, ch, sub, svc, nil)

	e.Tracker().MarkClosed(1)
	e.Tracker().MarkClosed(2)
	require.True(t, e.Queue().Push(rebalanceIntent("a", 1)))
	require.True(t, e.Queue().Push(rebalanceIntent("b", 2)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(svc.reported) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "a", svc.reported[0].IntentID)
	assert.Equal(t, "b", svc.reported[1].IntentID)
}
