package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

const defaultDLQTable = "dead_letter_commands"

// DLQEntry is a dead-lettered command with operator-facing context.
type DLQEntry struct {
	CommandID   string
	RobotID     int
	Action      string
	Reason      string
	RetryCount  int
	Payload     json.RawMessage
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Attempts    int
}

// DLQStore records commands that exhausted retries or were structurally
// invalid. Terminal: entries require operator intervention.
type DLQStore struct {
	db    *sql.DB
	table string
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	store := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Record inserts or updates a dead-letter entry for a command.
func (s *DLQStore) Record(ctx context.Context, cmd fleet.Command, reason string) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if cmd.CommandID == "" {
		return errors.New("dlq store: empty command id")
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	command_id, robot_id, action, payload, reason, retry_count,
	first_seen_at, last_seen_at, attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $7, 1
)
ON CONFLICT (command_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	reason = EXCLUDED.reason,
	retry_count = EXCLUDED.retry_count,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query, cmd.CommandID, cmd.RobotID, cmd.Action, payload, reason, cmd.RetryCount, now)
	return err
}

// List returns dead-letter entries, newest first.
func (s *DLQStore) List(ctx context.Context, limit int) ([]DLQEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT command_id, robot_id, action, payload, reason, retry_count, first_seen_at, last_seen_at, attempts
FROM %s
ORDER BY last_seen_at DESC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DLQEntry
	for rows.Next() {
		var entry DLQEntry
		if err := rows.Scan(&entry.CommandID, &entry.RobotID, &entry.Action, &entry.Payload,
			&entry.Reason, &entry.RetryCount, &entry.FirstSeenAt, &entry.LastSeenAt, &entry.Attempts); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Purge removes entries older than the retention cutoff.
func (s *DLQStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("dlq store: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE last_seen_at < $1`, s.table)
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
