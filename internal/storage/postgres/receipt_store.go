package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"clmm-agent/internal/domain"
	"clmm-agent/internal/storage"
)

// ReceiptStore implements storage.ReceiptStore using PostgreSQL.
type ReceiptStore struct {
	pool *Pool
}

// NewReceiptStore creates a new ReceiptStore.
func NewReceiptStore(pool *Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReceiptStore = (*ReceiptStore)(nil)

// Insert journals one terminal result. Returns ErrDuplicateKey if the
// intent_id was already journaled.
func (s *ReceiptStore) Insert(ctx context.Context, r *domain.ExecutionResult) error {
	if r == nil || r.IntentID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_receipts (
			intent_id, action, status,
			tx_hashes, block_numbers, gas_used,
			reason, attempts, opened_token_ids, finished_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, $10
		)
	`

	txHashes := r.TxHashes
	if txHashes == nil {
		txHashes = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		r.IntentID, string(r.Action), string(r.Status),
		txHashes, uintsToInts(r.BlockNumbers), int64(r.GasUsed),
		r.Reason, r.Attempts, uintsToInts(r.OpenedTokenIDs), r.FinishedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution receipt: %w", err)
	}
	return nil
}

// GetByIntentID retrieves a journaled result. Returns ErrNotFound if not exists.
func (s *ReceiptStore) GetByIntentID(ctx context.Context, intentID string) (*domain.ExecutionResult, error) {
	query := `
		SELECT
			intent_id, action, status,
			tx_hashes, block_numbers, gas_used,
			reason, attempts, opened_token_ids, finished_at
		FROM execution_receipts
		WHERE intent_id = $1
	`

	row := s.pool.QueryRow(ctx, query, intentID)
	r, err := scanReceipt(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution receipt: %w", err)
	}
	return r, nil
}

// Recent retrieves the most recent results, newest first.
func (s *ReceiptStore) Recent(ctx context.Context, limit int) ([]*domain.ExecutionResult, error) {
	query := `
		SELECT
			intent_id, action, status,
			tx_hashes, block_numbers, gas_used,
			reason, attempts, opened_token_ids, finished_at
		FROM execution_receipts
		ORDER BY finished_at DESC, intent_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get recent execution receipts: %w", err)
	}
	defer rows.Close()

	var results []*domain.ExecutionResult
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution receipt row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution receipt rows: %w", err)
	}

	return results, nil
}

// scanReceipt scans a single row into an ExecutionResult.
func scanReceipt(row pgx.Row) (*domain.ExecutionResult, error) {
	var (
		r              domain.ExecutionResult
		action, status string
		blockNumbers   []int64
		gasUsed        int64
		openedTokenIDs []int64
	)

	err := row.Scan(
		&r.IntentID, &action, &status,
		&r.TxHashes, &blockNumbers, &gasUsed,
		&r.Reason, &r.Attempts, &openedTokenIDs, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Action = domain.Action(action)
	r.Status = domain.Status(status)
	r.BlockNumbers = intsToUints(blockNumbers)
	r.GasUsed = uint64(gasUsed)
	r.OpenedTokenIDs = intsToUints(openedTokenIDs)
	return &r, nil
}

// uintsToInts converts for BIGINT[] columns. Chain values fit in int64.
func uintsToInts(in []uint64) []int64 {
	if in == nil {
		return []int64{}
	}
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func intsToUints(in []int64) []uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = uint64(v)
	}
	return out
}
