package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

func TestReceiptStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReceiptStore(pool)
	ctx := context.Background()

	r := &domain.ExecutionResult{
		IntentID:       "int-1",
		Action:         domain.ActionRebalance,
		Status:         domain.StatusPartial,
		TxHashes:       []string{"0xaaa"},
		BlockNumbers:   []uint64{1234},
		GasUsed:        210_000,
		Reason:         "position drifted back in range",
		Attempts:       2,
		OpenedTokenIDs: []uint64{},
		FinishedAt:     1_700_000_000,
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByIntentID(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRebalance, got.Action)
	assert.Equal(t, domain.StatusPartial, got.Status)
	assert.Equal(t, []string{"0xaaa"}, got.TxHashes)
	assert.Equal(t, []uint64{1234}, got.BlockNumbers)
	assert.Equal(t, uint64(210_000), got.GasUsed)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "position drifted back in range", got.Reason)
}

func TestReceiptStore_Duplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReceiptStore(pool)
	ctx := context.Background()

	r := &domain.ExecutionResult{IntentID: "dup", Action: domain.ActionDeploy, Status: domain.StatusCompleted, FinishedAt: 1}
	require.NoError(t, store.Insert(ctx, r))
	assert.ErrorIs(t, store.Insert(ctx, r), storage.ErrDuplicateKey)
}

func TestReceiptStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReceiptStore(pool)
	_, err := store.GetByIntentID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReceiptStore_RecentOrder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReceiptStore(pool)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(ctx, &domain.ExecutionResult{
			IntentID:   id,
			Action:     domain.ActionCollectFees,
			Status:     domain.StatusCompleted,
			FinishedAt: int64(100 + i),
		}))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].IntentID)
	assert.Equal(t, "b", recent[1].IntentID)
}
