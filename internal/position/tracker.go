// Package position tracks which on-chain positions the engine is acting on.
// The Tracker is the authorization gate every execution path passes through
// before touching a position.
package position

import "sync"

// Skip reasons returned by Acquire.
const (
	ReasonAlreadyClosed     = "already closed"
	ReasonAlreadyProcessing = "already processing"
)

// Tracker owns the process-lifetime active and closed token-id sets.
// All access goes through its methods; the sets are never shared directly.
type Tracker struct {
	mu     sync.Mutex
	active map[uint64]struct{}
	closed map[uint64]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[uint64]struct{}),
		closed: make(map[uint64]struct{}),
	}
}

// Acquire attempts to claim a token id for execution. It returns ok=false
// with a skip reason when the position is already closed or already being
// processed; otherwise it marks the id active and returns ok=true.
func (t *Tracker) Acquire(tokenID uint64) (ok bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, done := t.closed[tokenID]; done {
		return false, ReasonAlreadyClosed
	}
	if _, busy := t.active[tokenID]; busy {
		return false, ReasonAlreadyProcessing
	}
	t.active[tokenID] = struct{}{}
	return true, ""
}

// Release drops the active claim without closing. The id becomes eligible
// for retry by a future fresh intent.
func (t *Tracker) Release(tokenID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, tokenID)
}

// MarkClosed records that the position was confirmed closed on-chain.
// Once closed, the id is never submitted to chain again for the lifetime of
// this process.
func (t *Tracker) MarkClosed(tokenID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, tokenID)
	t.closed[tokenID] = struct{}{}
}

// IsActive reports whether the id is currently mid-execution.
func (t *Tracker) IsActive(tokenID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.active[tokenID]
	return busy
}

// IsClosed reports whether the id was confirmed closed this process lifetime.
func (t *Tracker) IsClosed(tokenID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, done := t.closed[tokenID]
	return done
}

// ActiveCount returns the number of ids currently mid-execution.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
