package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

func TestActivityStore_AppendAndRecent(t *testing.T) {
	s := NewActivityStore()
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendEvent(ctx, domain.ActivityEvent{
			Timestamp: int64(1000 + i),
			Level:     domain.LevelInfo,
			Message:   msg,
		}))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)
}

func TestActivityStore_RejectsEmptyMessage(t *testing.T) {
	s := NewActivityStore()
	err := s.AppendEvent(context.Background(), domain.ActivityEvent{Level: domain.LevelWarn})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
