package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultIdempotencyTable = "command_idempotency"

// IdempotencyStore is a Postgres idempotency store. The insert-on-conflict
// gives the atomic check-and-set a single evaluation wins; rows older than
// the retention horizon are treated as absent.
type IdempotencyStore struct {
	db        *sql.DB
	table     string
	retention time.Duration
}

// NewIdempotencyStore constructs an idempotency store.
func NewIdempotencyStore(db *sql.DB, retention time.Duration, opts ...IdempotencyOption) *IdempotencyStore {
	store := &IdempotencyStore{db: db, table: defaultIdempotencyTable, retention: retention}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IdempotencyOption configures the store.
type IdempotencyOption func(*IdempotencyStore)

// WithIdempotencyTable overrides the table name.
func WithIdempotencyTable(table string) IdempotencyOption {
	return func(store *IdempotencyStore) {
		if table != "" {
			store.table = table
		}
	}
}

// CheckAndRecord records the command id and reports whether this was the
// first execution within the retention horizon.
func (s *IdempotencyStore) CheckAndRecord(ctx context.Context, commandID string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("idempotency store: nil db")
	}
	if commandID == "" {
		return false, errors.New("idempotency store: empty command id")
	}
	now = now.UTC()
	cutoff := time.Time{}
	if s.retention > 0 {
		cutoff = now.Add(-s.retention)
	}

	// An expired row is overwritten and counts as a fresh first execution.
	query := fmt.Sprintf(`
INSERT INTO %s (command_id, executed_at)
VALUES ($1, $2)
ON CONFLICT (command_id)
DO UPDATE SET executed_at = EXCLUDED.executed_at
WHERE %s.executed_at < $3`, s.table, s.table)

	result, err := s.db.ExecContext(ctx, query, commandID, now, cutoff)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Prune removes records beyond the retention horizon.
func (s *IdempotencyStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("idempotency store: nil db")
	}
	if s.retention <= 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE executed_at < $1`, s.table)
	result, err := s.db.ExecContext(ctx, query, now.UTC().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
