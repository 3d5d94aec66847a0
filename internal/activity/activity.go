// Package activity is the leveled activity stream consumed by the GUI layer.
// It is a side channel: publishing never blocks or fails the execution path.
package activity

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"clmm-agent/internal/domain"
)

// Sink receives every published event for durable history. Append errors are
// logged and dropped; history is best-effort by design.
type Sink interface {
	AppendEvent(ctx context.Context, event domain.ActivityEvent) error
}

// subscriberBuffer absorbs bursts; a full subscriber drops events rather
// than stalling execution.
const subscriberBuffer = 256

// Stream fans activity events out to subscribers and the optional sink.
type Stream struct {
	logger *log.Logger
	sink   Sink

	mu     sync.Mutex
	subs   map[int]chan domain.ActivityEvent
	nextID int

	now func() time.Time
}

// NewStream creates an activity stream. sink may be nil.
func NewStream(logger *log.Logger, sink Sink) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{
		logger: logger,
		sink:   sink,
		subs:   make(map[int]chan domain.ActivityEvent),
		now:    time.Now,
	}
}

// Subscribe registers an observer. The returned cancel func must be called
// to release the subscription.
func (s *Stream) Subscribe() (<-chan domain.ActivityEvent, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan domain.ActivityEvent, subscriberBuffer)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Publish emits one event to the log, all subscribers and the sink.
func (s *Stream) Publish(event domain.ActivityEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = s.now().UnixMilli()
	}

	s.logger.Printf("[activity] %s %s %s", event.Level, event.Type, event.Message)

	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default: // slow subscriber, drop
		}
	}
	s.mu.Unlock()

	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.AppendEvent(ctx, event); err != nil {
			s.logger.Printf("[activity] history append failed: %v", err)
		}
	}
}

// Info publishes an info-level event.
func (s *Stream) Info(eventType domain.EventType, intentID string, tokenID uint64, format string, args ...interface{}) {
	s.Publish(domain.ActivityEvent{
		Level: domain.LevelInfo, Type: eventType,
		IntentID: intentID, TokenID: tokenID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Warn publishes a warn-level event.
func (s *Stream) Warn(eventType domain.EventType, intentID string, tokenID uint64, format string, args ...interface{}) {
	s.Publish(domain.ActivityEvent{
		Level: domain.LevelWarn, Type: eventType,
		IntentID: intentID, TokenID: tokenID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Error publishes an error-level event.
func (s *Stream) Error(eventType domain.EventType, intentID string, tokenID uint64, format string, args ...interface{}) {
	s.Publish(domain.ActivityEvent{
		Level: domain.LevelError, Type: eventType,
		IntentID: intentID, TokenID: tokenID,
		Message: fmt.Sprintf(format, args...),
	})
}
