package auth

import (
	"context"
	"database/sql"
	"errors"

	telemetryrepo "robot-fleet-cloud/internal/telemetry/infrastructure/postgres"
)

var (
	// ErrFleetMismatch indicates resource belongs to a different fleet.
	ErrFleetMismatch = errors.New("fleet mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// RobotFleetChecker validates robot fleet ownership.
type RobotFleetChecker interface {
	EnsureRobotFleet(ctx context.Context, fleetID string, robotID int) error
}

// RobotChecker checks robot ownership using the robot state store.
type RobotChecker struct {
	repo *telemetryrepo.RobotStateRepository
}

// NewRobotChecker constructs a RobotChecker.
func NewRobotChecker(db *sql.DB) *RobotChecker {
	if db == nil {
		return nil
	}
	return &RobotChecker{repo: telemetryrepo.NewRobotStateRepository(db)}
}

// EnsureRobotFleet verifies the robot belongs to the fleet. Robots without a
// recorded state are treated as not found.
func (c *RobotChecker) EnsureRobotFleet(ctx context.Context, fleetID string, robotID int) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if fleetID == "" || robotID <= 0 {
		return nil
	}
	row, err := c.repo.Get(ctx, robotID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}
	if row.FleetID != fleetID {
		return ErrFleetMismatch
	}
	return nil
}
