package application

import (
	"context"
	"testing"
	"time"

	"robot-fleet-cloud/internal/dispatch"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	telemetryrepo "robot-fleet-cloud/internal/telemetry/infrastructure/postgres"
)

type memoryStateStore struct {
	rows map[int]telemetryrepo.StateRow
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{rows: make(map[int]telemetryrepo.StateRow)}
}

func (s *memoryStateStore) Upsert(ctx context.Context, fleetID string, state fleet.RobotState) error {
	s.rows[state.RobotID] = telemetryrepo.StateRow{
		RobotID:   state.RobotID,
		FleetID:   fleetID,
		State:     state,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *memoryStateStore) Get(ctx context.Context, robotID int) (*telemetryrepo.StateRow, error) {
	row, ok := s.rows[robotID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func TestStateAggregatorIngest(t *testing.T) {
	store := newMemoryStateStore()
	agg, err := NewStateAggregator(store, dispatch.NewHaltGate(), "fleet-a")
	if err != nil {
		t.Fatalf("NewStateAggregator: %v", err)
	}

	report := fleet.Telemetry{
		RobotID:     7,
		Position:    fleet.Position{X: 1, Y: 2, Z: 3},
		Velocity:    fleet.Velocity{VX: 0.5},
		Environment: fleet.Environment{Temperature: 42},
		Zone:        6,
	}
	if err := agg.Ingest(context.Background(), report); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	row, err := agg.Lookup(context.Background(), 7)
	if err != nil || row == nil {
		t.Fatalf("Lookup: row=%v err=%v", row, err)
	}
	if row.FleetID != "fleet-a" {
		t.Fatalf("expected fleet-a, got %q", row.FleetID)
	}
	if row.State.Temp != 42 || row.State.Velocity.VX != 0.5 || row.State.Halted {
		t.Fatalf("unexpected state: %+v", row.State)
	}
}

func TestStateAggregatorIngest_HaltedZoneFreezesVelocity(t *testing.T) {
	store := newMemoryStateStore()
	gate := dispatch.NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: 6, Reason: "test"})
	agg, err := NewStateAggregator(store, gate, "fleet-a")
	if err != nil {
		t.Fatalf("NewStateAggregator: %v", err)
	}

	// The robot claims it is still moving; the gate overrules it.
	report := fleet.Telemetry{
		RobotID:  7,
		Velocity: fleet.Velocity{VX: 2, VY: 1},
		Zone:     6,
	}
	if err := agg.Ingest(context.Background(), report); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	row, _ := agg.Lookup(context.Background(), 7)
	if !row.State.Halted {
		t.Fatal("expected halted state for a halted zone")
	}
	if row.State.Velocity != (fleet.Velocity{}) {
		t.Fatalf("expected zero velocity, got %+v", row.State.Velocity)
	}
}

func TestStateAggregator_CooldownSurvivesIngest(t *testing.T) {
	store := newMemoryStateStore()
	agg, err := NewStateAggregator(store, dispatch.NewHaltGate(), "fleet-a")
	if err != nil {
		t.Fatalf("NewStateAggregator: %v", err)
	}
	ctx := context.Background()

	if err := agg.Ingest(ctx, fleet.Telemetry{RobotID: 3, Zone: 2}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := agg.ApplyCooldown(ctx, 3, 12345); err != nil {
		t.Fatalf("ApplyCooldown: %v", err)
	}
	if err := agg.Ingest(ctx, fleet.Telemetry{RobotID: 3, Zone: 2}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	row, _ := agg.Lookup(ctx, 3)
	if row.State.CoolingUntil != 12345 {
		t.Fatalf("cooldown deadline should survive ingest, got %.0f", row.State.CoolingUntil)
	}
}

func TestStateAggregator_CooldownWithoutPriorState(t *testing.T) {
	store := newMemoryStateStore()
	agg, err := NewStateAggregator(store, dispatch.NewHaltGate(), "fleet-a")
	if err != nil {
		t.Fatalf("NewStateAggregator: %v", err)
	}

	if err := agg.ApplyCooldown(context.Background(), 9, 777); err != nil {
		t.Fatalf("ApplyCooldown: %v", err)
	}
	row, _ := agg.Lookup(context.Background(), 9)
	if row == nil || row.State.CoolingUntil != 777 {
		t.Fatalf("expected seeded cooldown state, got %+v", row)
	}
}

func TestStateAggregatorIngest_RejectsInvalidRobot(t *testing.T) {
	agg, err := NewStateAggregator(newMemoryStateStore(), nil, "fleet-a")
	if err != nil {
		t.Fatalf("NewStateAggregator: %v", err)
	}
	if err := agg.Ingest(context.Background(), fleet.Telemetry{}); err == nil {
		t.Fatal("expected error for missing robot id")
	}
}
