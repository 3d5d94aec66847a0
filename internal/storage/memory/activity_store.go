package memory

import (
	"context"
	"sync"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

// ActivityStore is an in-memory implementation of storage.ActivityStore.
type ActivityStore struct {
	mu     sync.RWMutex
	events []domain.ActivityEvent
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

// AppendEvent appends one activity event.
func (s *ActivityStore) AppendEvent(_ context.Context, e domain.ActivityEvent) error {
	if e.Message == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Recent retrieves the most recent events, newest first.
func (s *ActivityStore) Recent(_ context.Context, limit int) ([]domain.ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.ActivityEvent
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, s.events[i])
	}
	return result, nil
}

var _ storage.ActivityStore = (*ActivityStore)(nil)
