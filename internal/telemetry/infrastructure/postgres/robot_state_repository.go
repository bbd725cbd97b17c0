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

const defaultRobotStateTable = "robot_states"

// StateRow is the persisted latest state for one robot.
type StateRow struct {
	RobotID   int
	FleetID   string
	State     fleet.RobotState
	UpdatedAt time.Time
}

// RobotStateRepository stores the latest state per robot. The table is
// compaction-shaped: one row per robot, upserted on every report.
type RobotStateRepository struct {
	db    *sql.DB
	table string
}

// RobotStateOption configures the repository.
type RobotStateOption func(*RobotStateRepository)

// WithRobotStateTable overrides the default table name.
func WithRobotStateTable(table string) RobotStateOption {
	return func(repo *RobotStateRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRobotStateRepository constructs a repository with default table name.
func NewRobotStateRepository(db *sql.DB, opts ...RobotStateOption) *RobotStateRepository {
	repo := &RobotStateRepository{db: db, table: defaultRobotStateTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Upsert writes the latest state for a robot.
func (r *RobotStateRepository) Upsert(ctx context.Context, fleetID string, state fleet.RobotState) error {
	if r == nil || r.db == nil {
		return errors.New("robot state repo: nil db")
	}
	if state.RobotID <= 0 {
		return errors.New("robot state repo: robot id required")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (robot_id, fleet_id, state, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (robot_id)
DO UPDATE SET fleet_id = EXCLUDED.fleet_id, state = EXCLUDED.state, updated_at = NOW()`, r.table)

	_, err = r.db.ExecContext(ctx, query, state.RobotID, fleetID, payload)
	return err
}

// Get returns the latest state row for a robot, nil when absent.
func (r *RobotStateRepository) Get(ctx context.Context, robotID int) (*StateRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("robot state repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT robot_id, fleet_id, state, updated_at
FROM %s
WHERE robot_id = $1`, r.table)

	var row StateRow
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, robotID).Scan(&row.RobotID, &row.FleetID, &payload, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &row.State); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListZone returns states for every robot in a zone.
func (r *RobotStateRepository) ListZone(ctx context.Context, zone, limit int) ([]StateRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("robot state repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT robot_id, fleet_id, state, updated_at
FROM %s
WHERE (state->>'zone')::int = $1
ORDER BY robot_id
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, zone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StateRow
	for rows.Next() {
		var row StateRow
		var payload []byte
		if err := rows.Scan(&row.RobotID, &row.FleetID, &payload, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &row.State); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
