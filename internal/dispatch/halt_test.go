package dispatch

import (
	"testing"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

func TestHaltGate_ZoneHalt(t *testing.T) {
	gate := NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: 3, Reason: "dust storm"})

	if !gate.IsHalted(3) {
		t.Fatal("zone 3 should be halted")
	}
	if gate.IsHalted(4) {
		t.Fatal("zone 4 should not be halted")
	}
	halt, active := gate.ActiveHalt(3)
	if !active || halt.Reason != "dust storm" {
		t.Fatalf("expected active halt for zone 3, got active=%v reason=%q", active, halt.Reason)
	}

	gate.Resume(3)
	if gate.IsHalted(3) {
		t.Fatal("zone 3 should resume")
	}
}

func TestHaltGate_FleetWideCoversEveryZone(t *testing.T) {
	gate := NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: fleet.ZoneAll, Reason: "solar flare"})

	for zone := 0; zone < 10; zone++ {
		if !gate.IsHalted(zone) {
			t.Fatalf("zone %d should be covered by the fleet-wide halt", zone)
		}
	}
	halt, active := gate.ActiveHalt(7)
	if !active || halt.Zone != fleet.ZoneAll {
		t.Fatalf("expected fleet-wide halt governing zone 7, got active=%v zone=%d", active, halt.Zone)
	}
}

func TestHaltGate_FleetWideWinsOverZoneHalt(t *testing.T) {
	gate := NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: 2, Reason: "zone"})
	gate.Apply(fleet.EmergencyHalt{Zone: fleet.ZoneAll, Reason: "fleet"})

	halt, active := gate.ActiveHalt(2)
	if !active || halt.Reason != "fleet" {
		t.Fatalf("expected fleet-wide halt to win, got active=%v reason=%q", active, halt.Reason)
	}
}

func TestHaltGate_ResumeAllClearsZones(t *testing.T) {
	gate := NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: 1})
	gate.Apply(fleet.EmergencyHalt{Zone: 2})
	gate.Apply(fleet.EmergencyHalt{Zone: fleet.ZoneAll})

	gate.Resume(fleet.ZoneAll)
	if gate.IsHalted(1) || gate.IsHalted(2) {
		t.Fatal("resume all should clear zone halts too")
	}
	if halts := gate.Active(); len(halts) != 0 {
		t.Fatalf("expected no active halts, got %d", len(halts))
	}
}

func TestHaltGate_EpochAdvancesOnChange(t *testing.T) {
	gate := NewHaltGate()
	before := gate.Epoch()

	gate.Apply(fleet.EmergencyHalt{Zone: 5})
	afterApply := gate.Epoch()
	if afterApply <= before {
		t.Fatal("applying a halt should advance the epoch")
	}

	// Re-applying an active halt is a no-op.
	gate.Apply(fleet.EmergencyHalt{Zone: 5})
	if gate.Epoch() != afterApply {
		t.Fatal("re-applying an active halt should not advance the epoch")
	}

	gate.Resume(5)
	if gate.Epoch() <= afterApply {
		t.Fatal("resume should advance the epoch")
	}
}

func TestHaltGate_ActiveListsFleetWideFirst(t *testing.T) {
	gate := NewHaltGate()
	gate.Apply(fleet.EmergencyHalt{Zone: 4, Reason: "zone"})
	gate.Apply(fleet.EmergencyHalt{Zone: fleet.ZoneAll, Reason: "fleet"})

	halts := gate.Active()
	if len(halts) != 2 {
		t.Fatalf("expected 2 active halts, got %d", len(halts))
	}
	if halts[0].Zone != fleet.ZoneAll {
		t.Fatalf("expected fleet-wide halt first, got zone %d", halts[0].Zone)
	}
}

func TestEffectiveVelocity(t *testing.T) {
	moving := fleet.Velocity{VX: 1.5, VY: -0.3, VZ: 0.1}
	if got := EffectiveVelocity(moving, false); got != moving {
		t.Fatalf("unhalted velocity should pass through, got %+v", got)
	}
	if got := EffectiveVelocity(moving, true); got != (fleet.Velocity{}) {
		t.Fatalf("halted velocity should be zero, got %+v", got)
	}
}
