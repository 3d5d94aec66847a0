// Package memory provides in-memory store implementations for tests and
// database-less deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

// ReceiptStore is an in-memory implementation of storage.ReceiptStore.
type ReceiptStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.ExecutionResult // keyed by intent_id
	order []string                           // insertion order
}

// NewReceiptStore creates a new in-memory receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		data: make(map[string]*domain.ExecutionResult),
	}
}

// Insert journals one terminal result. Returns ErrDuplicateKey if the
// intent_id was already journaled.
func (s *ReceiptStore) Insert(_ context.Context, r *domain.ExecutionResult) error {
	if r == nil || r.IntentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.IntentID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.IntentID] = &copy
	s.order = append(s.order, r.IntentID)
	return nil
}

// GetByIntentID retrieves a journaled result. Returns ErrNotFound if not exists.
func (s *ReceiptStore) GetByIntentID(_ context.Context, intentID string) (*domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[intentID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// Recent retrieves the most recent results, newest first.
func (s *ReceiptStore) Recent(_ context.Context, limit int) ([]*domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExecutionResult
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		copy := *s.data[s.order[i]]
		result = append(result, &copy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].FinishedAt > result[j].FinishedAt
	})

	return result, nil
}

var _ storage.ReceiptStore = (*ReceiptStore)(nil)
