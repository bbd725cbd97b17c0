package application

import (
	"context"
	"errors"

	"robot-fleet-cloud/internal/dispatch"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/observability/metrics"
	telemetryrepo "robot-fleet-cloud/internal/telemetry/infrastructure/postgres"
)

// StateStore persists latest robot state.
type StateStore interface {
	Upsert(ctx context.Context, fleetID string, state fleet.RobotState) error
	Get(ctx context.Context, robotID int) (*telemetryrepo.StateRow, error)
}

// StateAggregator folds telemetry reports into per-robot state. The halt
// gate is authoritative for the halted flag: a report from a halted zone is
// recorded frozen regardless of what the robot claimed.
type StateAggregator struct {
	store   StateStore
	halts   *dispatch.HaltGate
	fleetID string
}

// NewStateAggregator constructs a state aggregator.
func NewStateAggregator(store StateStore, halts *dispatch.HaltGate, fleetID string) (*StateAggregator, error) {
	if store == nil {
		return nil, errors.New("telemetry aggregator: nil store")
	}
	if halts == nil {
		halts = dispatch.NewHaltGate()
	}
	return &StateAggregator{store: store, halts: halts, fleetID: fleetID}, nil
}

// Ingest records one telemetry report.
func (a *StateAggregator) Ingest(ctx context.Context, report fleet.Telemetry) error {
	if a == nil || a.store == nil {
		return errors.New("telemetry aggregator: nil store")
	}
	if report.RobotID <= 0 {
		return errors.New("telemetry aggregator: robot id required")
	}

	halted := a.halts.IsHalted(report.Zone)
	state := fleet.RobotState{
		RobotID:  report.RobotID,
		Position: report.Position,
		Velocity: dispatch.EffectiveVelocity(report.Velocity, halted),
		Temp:     report.Environment.Temperature,
		Halted:   halted,
		Zone:     report.Zone,
	}

	prior, err := a.store.Get(ctx, report.RobotID)
	if err != nil {
		return err
	}
	if prior != nil {
		state.CoolingUntil = prior.State.CoolingUntil
	}

	if err := a.store.Upsert(ctx, a.fleetID, state); err != nil {
		return err
	}
	metrics.IncTelemetryProcessed("state_aggregator")
	return nil
}

// ApplyCooldown records active cooling for a robot until the given time.
// Cooldown commands route here once accepted for live execution.
func (a *StateAggregator) ApplyCooldown(ctx context.Context, robotID int, until float64) error {
	if a == nil || a.store == nil {
		return errors.New("telemetry aggregator: nil store")
	}
	prior, err := a.store.Get(ctx, robotID)
	if err != nil {
		return err
	}
	state := fleet.RobotState{RobotID: robotID}
	if prior != nil {
		state = prior.State
	}
	state.CoolingUntil = until
	return a.store.Upsert(ctx, a.fleetID, state)
}

// Lookup returns the latest state row for a robot, nil when absent.
func (a *StateAggregator) Lookup(ctx context.Context, robotID int) (*telemetryrepo.StateRow, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("telemetry aggregator: nil store")
	}
	return a.store.Get(ctx, robotID)
}
