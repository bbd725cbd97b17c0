package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commands "robot-fleet-cloud/internal/commands/domain"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

const defaultCommandsTable = "fleet_commands"

// CommandRepository persists command lifecycle records.
type CommandRepository struct {
	db    *sql.DB
	table string
}

// NewCommandRepository constructs a command repository.
func NewCommandRepository(db *sql.DB, opts ...CommandOption) *CommandRepository {
	repo := &CommandRepository{db: db, table: defaultCommandsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CommandOption configures the repository.
type CommandOption func(*CommandRepository)

// WithCommandsTable overrides the table name.
func WithCommandsTable(table string) CommandOption {
	return func(repo *CommandRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Create inserts a new command record.
func (r *CommandRepository) Create(ctx context.Context, record *commands.Record) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if record == nil || record.Command.CommandID == "" {
		return errors.New("command repo: empty command id")
	}
	payload, err := json.Marshal(record.Command)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	command_id, robot_id, zone, action, correlation_id, payload, signature,
	status, reason, issued_by, retry_count, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12
)`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		record.Command.CommandID, record.Command.RobotID, record.Zone, record.Command.Action,
		record.Command.CorrelationID, payload, record.Signature,
		record.Status, record.Reason, record.IssuedBy, record.Command.RetryCount, record.CreatedAt.UTC())
	return err
}

// UpdateStatus transitions a command's status with a reason.
func (r *CommandRepository) UpdateStatus(ctx context.Context, commandID, status, reason string, retryCount int) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, reason = $2, retry_count = $3, updated_at = $4
WHERE command_id = $5`, r.table)
	_, err := r.db.ExecContext(ctx, query, status, reason, retryCount, time.Now().UTC(), commandID)
	return err
}

// Find returns a command record by id, or nil when absent.
func (r *CommandRepository) Find(ctx context.Context, commandID string) (*commands.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT payload, signature, status, reason, zone, issued_by, created_at, updated_at
FROM %s
WHERE command_id = $1`, r.table)

	var payload []byte
	record := &commands.Record{}
	err := r.db.QueryRowContext(ctx, query, commandID).Scan(
		&payload, &record.Signature, &record.Status, &record.Reason,
		&record.Zone, &record.IssuedBy, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &record.Command); err != nil {
		return nil, err
	}
	return record, nil
}

// ListByRobot returns recent commands for one robot, newest first.
func (r *CommandRepository) ListByRobot(ctx context.Context, robotID, limit int) ([]commands.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT payload, signature, status, reason, zone, issued_by, created_at, updated_at
FROM %s
WHERE robot_id = $1
ORDER BY created_at DESC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, robotID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.Record
	for rows.Next() {
		var payload []byte
		record := commands.Record{}
		if err := rows.Scan(&payload, &record.Signature, &record.Status, &record.Reason,
			&record.Zone, &record.IssuedBy, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		var cmd fleet.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		record.Command = cmd
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
