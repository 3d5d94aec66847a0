// Package storage defines the persistence interfaces for the engine's output
// journals. Stores record outcomes for operators and the GUI; position truth
// is always re-read from chain and never served from here.
package storage

import (
	"context"

	"clmm-agent/internal/domain"
)

// ReceiptStore journals terminal execution results.
type ReceiptStore interface {
	// Insert journals one terminal result. Returns ErrDuplicateKey if the
	// intent_id was already journaled.
	Insert(ctx context.Context, r *domain.ExecutionResult) error

	// GetByIntentID retrieves a journaled result. Returns ErrNotFound if not exists.
	GetByIntentID(ctx context.Context, intentID string) (*domain.ExecutionResult, error)

	// Recent retrieves the most recent results, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.ExecutionResult, error)
}

// ActivityStore is the append-only activity event history.
type ActivityStore interface {
	// AppendEvent appends one activity event.
	AppendEvent(ctx context.Context, e domain.ActivityEvent) error

	// Recent retrieves the most recent events, newest first.
	Recent(ctx context.Context, limit int) ([]domain.ActivityEvent, error)
}
