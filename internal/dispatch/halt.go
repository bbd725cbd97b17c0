package dispatch

import (
	"sync"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// HaltGate tracks emergency halt scope. Halts are monotonic: once a zone
// is halted only an explicit resume clears it. Reads take a shared lock so
// many evaluations can check halt state concurrently; applying a halt
// publishes atomically and bumps the epoch so no later evaluation for the
// affected scope can accept a command.
type HaltGate struct {
	mu    sync.RWMutex
	all   *fleet.EmergencyHalt
	zones map[int]fleet.EmergencyHalt
	epoch uint64
}

// NewHaltGate constructs an empty halt gate.
func NewHaltGate() *HaltGate {
	return &HaltGate{zones: make(map[int]fleet.EmergencyHalt)}
}

// Apply activates a halt. A fleet.ZoneAll halt covers every zone. Re-applying
// an already-active halt is a no-op beyond re-confirming the state.
func (g *HaltGate) Apply(halt fleet.EmergencyHalt) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if halt.Zone == fleet.ZoneAll {
		if g.all == nil {
			copied := halt
			g.all = &copied
			g.epoch++
		}
		return
	}
	if _, active := g.zones[halt.Zone]; !active {
		g.zones[halt.Zone] = halt
		g.epoch++
	}
}

// Resume clears a halt for a zone, or the fleet-wide halt and every zone
// halt when given fleet.ZoneAll.
func (g *HaltGate) Resume(zone int) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if zone == fleet.ZoneAll {
		if g.all != nil || len(g.zones) > 0 {
			g.all = nil
			g.zones = make(map[int]fleet.EmergencyHalt)
			g.epoch++
		}
		return
	}
	if _, active := g.zones[zone]; active {
		delete(g.zones, zone)
		g.epoch++
	}
}

// IsHalted reports whether a zone is under an active halt.
func (g *HaltGate) IsHalted(zone int) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.all != nil {
		return true
	}
	_, active := g.zones[zone]
	return active
}

// ActiveHalt returns the halt governing a zone, preferring the fleet-wide
// halt when both apply.
func (g *HaltGate) ActiveHalt(zone int) (fleet.EmergencyHalt, bool) {
	if g == nil {
		return fleet.EmergencyHalt{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.all != nil {
		return *g.all, true
	}
	halt, active := g.zones[zone]
	return halt, active
}

// Active returns every halt currently held, the fleet-wide halt first.
func (g *HaltGate) Active() []fleet.EmergencyHalt {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	halts := make([]fleet.EmergencyHalt, 0, len(g.zones)+1)
	if g.all != nil {
		halts = append(halts, *g.all)
	}
	for _, halt := range g.zones {
		halts = append(halts, halt)
	}
	return halts
}

// Epoch returns the monotonic halt epoch. It advances on every state
// change, so callers can detect that a halt applied before an evaluation
// was visible to it.
func (g *HaltGate) Epoch() uint64 {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.epoch
}

// EffectiveVelocity forces velocity to zero for halted robots.
func EffectiveVelocity(current fleet.Velocity, halted bool) fleet.Velocity {
	if halted {
		return fleet.Velocity{}
	}
	return current
}
