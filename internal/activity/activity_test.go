package activity

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clmm-agent/internal/domain"
)

type captureSink struct {
	events []domain.ActivityEvent
}

func (s *captureSink) AppendEvent(_ context.Context, ev domain.ActivityEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestStream_FanOut(t *testing.T) {
	stream := NewStream(quietLogger(), nil)
	ch1, cancel1 := stream.Subscribe()
	ch2, cancel2 := stream.Subscribe()
	defer cancel1()
	defer cancel2()

	stream.Info(domain.EventPositionDeployed, "int-1", 42, "opened %s tier", domain.TierHot)

	for _, ch := range []<-chan domain.ActivityEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, domain.LevelInfo, ev.Level)
			assert.Equal(t, domain.EventPositionDeployed, ev.Type)
			assert.Equal(t, "int-1", ev.IntentID)
			assert.Equal(t, uint64(42), ev.TokenID)
			assert.Equal(t, "opened HOT tier", ev.Message)
			assert.NotZero(t, ev.Timestamp)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestStream_CancelStopsDelivery(t *testing.T) {
	stream := NewStream(quietLogger(), nil)
	ch, cancel := stream.Subscribe()
	cancel()

	// Channel is closed; publishing after cancel must not panic.
	stream.Warn(domain.EventExecutionError, "", 0, "x")
	_, open := <-ch
	assert.False(t, open)
}

func TestStream_SinkReceivesEvents(t *testing.T) {
	sink := &captureSink{}
	stream := NewStream(quietLogger(), sink)

	stream.Error(domain.EventExecutionError, "int-2", 0, "boom")

	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.LevelError, sink.events[0].Level)
	assert.Equal(t, "boom", sink.events[0].Message)
}

func TestStream_SlowSubscriberDoesNotBlock(t *testing.T) {
	stream := NewStream(quietLogger(), nil)
	_, cancel := stream.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			stream.Info(domain.EventFeesCollected, "", 0, "tick")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
