package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

func sampleResult(intentID string, finishedAt int64) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		IntentID:   intentID,
		Action:     domain.ActionRebalance,
		Status:     domain.StatusCompleted,
		TxHashes:   []string{"0x1", "0x2"},
		GasUsed:    21000,
		FinishedAt: finishedAt,
	}
}

func TestReceiptStore_InsertAndGet(t *testing.T) {
	s := NewReceiptStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleResult("int-1", 100)))

	got, err := s.GetByIntentID(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Len(t, got.TxHashes, 2)

	_, err = s.GetByIntentID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReceiptStore_DuplicateIntentID(t *testing.T) {
	s := NewReceiptStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleResult("int-1", 100)))
	assert.ErrorIs(t, s.Insert(ctx, sampleResult("int-1", 200)), storage.ErrDuplicateKey)
}

func TestReceiptStore_InvalidInput(t *testing.T) {
	s := NewReceiptStore()
	assert.ErrorIs(t, s.Insert(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.Insert(context.Background(), &domain.ExecutionResult{}), storage.ErrInvalidInput)
}

func TestReceiptStore_Recent(t *testing.T) {
	s := NewReceiptStore()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Insert(ctx, sampleResult(id, int64(100+i))))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].IntentID)
	assert.Equal(t, "b", recent[1].IntentID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReceiptStore_InsertCopies(t *testing.T) {
	s := NewReceiptStore()
	ctx := context.Background()

	r := sampleResult("int-1", 100)
	require.NoError(t, s.Insert(ctx, r))
	r.Status = domain.StatusFailed

	got, err := s.GetByIntentID(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}
