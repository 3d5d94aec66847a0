package domain

// Status is the terminal outcome class of one executed intent.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ExecutionResult is the outcome of running one intent. Terminal results are
// reported upstream and journaled; they are never retried automatically.
type ExecutionResult struct {
	IntentID string `json:"intentId"`
	Action   Action `json:"action"`
	Status   Status `json:"status"`

	TxHashes     []string `json:"txHashes,omitempty"`
	BlockNumbers []uint64 `json:"blockNumbers,omitempty"`
	GasUsed      uint64   `json:"gasUsed,omitempty"`

	// Reason is required for skipped/partial/failed outcomes.
	Reason string `json:"reason,omitempty"`

	// Attempts counts execution attempts consumed (rebalance ladder).
	Attempts int `json:"attempts,omitempty"`

	// OpenedTokenIDs lists positions minted by DEPLOY / IDLE_SWEEP, needed
	// downstream for rebalance targeting.
	OpenedTokenIDs []uint64 `json:"openedTokenIds,omitempty"`

	FinishedAt int64 `json:"finishedAt"`
}

// CompletedTxs is the number of transactions that confirmed before the
// intent reached its terminal status.
func (r *ExecutionResult) CompletedTxs() int {
	return len(r.TxHashes)
}

// Terminal reports whether the status is one of the four terminal classes.
func (r *ExecutionResult) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusSkipped, StatusPartial, StatusFailed:
		return true
	}
	return false
}
