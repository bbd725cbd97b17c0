package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

const defaultHaltsTable = "emergency_halts"

// HaltStore persists active halts so the gate survives restarts.
type HaltStore struct {
	db    *sql.DB
	table string
}

// NewHaltStore constructs a halt store.
func NewHaltStore(db *sql.DB, opts ...HaltOption) *HaltStore {
	store := &HaltStore{db: db, table: defaultHaltsTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// HaltOption configures the halt store.
type HaltOption func(*HaltStore)

// WithHaltsTable overrides the table name.
func WithHaltsTable(table string) HaltOption {
	return func(store *HaltStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Save upserts an active halt for its zone.
func (s *HaltStore) Save(ctx context.Context, halt fleet.EmergencyHalt) error {
	if s == nil || s.db == nil {
		return errors.New("halt store: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (zone, issued_at, reason, correlation_id, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (zone)
DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query, halt.Zone, halt.IssuedAt, halt.Reason, halt.CorrelationID, time.Now().UTC())
	return err
}

// Delete clears the halt for a zone. fleet.ZoneAll clears every halt.
func (s *HaltStore) Delete(ctx context.Context, zone int) error {
	if s == nil || s.db == nil {
		return errors.New("halt store: nil db")
	}
	if zone == fleet.ZoneAll {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE zone = $1`, s.table), zone)
	return err
}

// ListActive returns all persisted halts, used to rebuild the gate on
// startup.
func (s *HaltStore) ListActive(ctx context.Context) ([]fleet.EmergencyHalt, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("halt store: nil db")
	}
	query := fmt.Sprintf(`SELECT zone, issued_at, reason, correlation_id FROM %s`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fleet.EmergencyHalt
	for rows.Next() {
		var halt fleet.EmergencyHalt
		if err := rows.Scan(&halt.Zone, &halt.IssuedAt, &halt.Reason, &halt.CorrelationID); err != nil {
			return nil, err
		}
		result = append(result, halt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
