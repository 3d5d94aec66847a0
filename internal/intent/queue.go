package intent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"clmm-agent/internal/domain"
)

// GroupKey computes the conflict-grouping key for an intent. Execution is
// strictly sequential today, but the key is computed per-intent so a future
// concurrent drain can parallelize unrelated groups safely.
func GroupKey(in *domain.SignedIntent) string {
	switch in.Action {
	case domain.ActionRebalance:
		if r, err := in.DecodeRecipe(); err == nil {
			return fmt.Sprintf("rebalance:%d", r.(*domain.RebalanceRecipe).TokenID)
		}
	case domain.ActionBatchWithdraw:
		if r, err := in.DecodeRecipe(); err == nil {
			ids := append([]uint64(nil), r.(*domain.BatchWithdrawRecipe).TokenIDs...)
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprintf("%d", id)
			}
			return "batch:" + strings.Join(parts, ",")
		}
	case domain.ActionCollectFees:
		if r, err := in.DecodeRecipe(); err == nil {
			return fmt.Sprintf("collect:%d", r.(*domain.CollectFeesRecipe).TokenID)
		}
	}
	return strings.ToLower(string(in.Action))
}

// Queue is the FIFO intent queue drained by the execution gate. Pending
// intents are deduplicated by intent id; an id can be re-enqueued once its
// previous occurrence has been popped (exactly-once execution is enforced
// downstream by the position tracker).
type Queue struct {
	mu      sync.Mutex
	items   []*domain.SignedIntent
	pending map[string]struct{}
	notify  chan struct{}
}

// NewQueue creates an empty intent queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Push enqueues a verified intent. Returns false for duplicates of a
// still-pending intent id.
func (q *Queue) Push(in *domain.SignedIntent) bool {
	q.mu.Lock()
	if _, dup := q.pending[in.IntentID]; dup {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, in)
	q.pending[in.IntentID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an intent is available or the context is done.
// Intents come out in arrival order.
func (q *Queue) Pop(ctx context.Context) (*domain.SignedIntent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			in := q.items[0]
			q.items = q.items[1:]
			delete(q.pending, in.IntentID)
			q.mu.Unlock()
			return in, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of pending intents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Gate is the single-flight execution mutex: the queue drains one intent at
// a time, trading throughput for safety against tick-state races.
type Gate struct {
	mu sync.Mutex
}

// Do runs fn while holding the global execution lock.
func (g *Gate) Do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}
