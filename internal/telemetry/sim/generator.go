// Package sim generates fleet telemetry for load and soak testing without
// robot hardware.
package sim

import (
	"math"
	"math/rand"
	"sync"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

const (
	velocityDamping = 0.98
	tempFloor       = -150.0
	tempCeiling     = 200.0
	coolingRate     = 30.0
	overheatTemp    = 100.0
)

var idleStatuses = []string{
	fleet.StatusNominal,
	fleet.StatusExcavating,
	fleet.StatusMoving,
	fleet.StatusDustJam,
}

// Generator produces telemetry per robot with simple kinematics: damped
// velocity plus random acceleration, thermal drift with active cooling, and
// a halted override that freezes the robot in place. Deterministic for a
// given seed and call sequence.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	numZones int
	states   map[int]*fleet.RobotState
}

// NewGenerator constructs a generator with a fixed seed.
func NewGenerator(seed int64, numZones int) *Generator {
	if numZones <= 0 {
		numZones = 10
	}
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		numZones: numZones,
		states:   make(map[int]*fleet.RobotState),
	}
}

// Next advances one robot by dt seconds and returns its telemetry report.
func (g *Generator) Next(robotID int, dt, now float64) fleet.Telemetry {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[robotID]
	if !ok {
		state = &fleet.RobotState{
			RobotID: robotID,
			Position: fleet.Position{
				X: g.uniform(-100, 100),
				Y: g.uniform(-100, 100),
				Z: g.uniform(0, 10),
			},
			Temp: g.uniform(-50, 50),
			Zone: fleet.ZoneFor(robotID, g.numZones),
		}
		g.states[robotID] = state
	} else {
		g.advance(state, dt, now)
	}

	status := g.status(state, now)
	regolith := 0.0
	if status == fleet.StatusExcavating {
		regolith = g.uniform(0.5, 5)
	}

	return fleet.Telemetry{
		RobotID:   robotID,
		Timestamp: now,
		Position:  state.Position,
		Velocity:  state.Velocity,
		Status:    status,
		Payload: fleet.TelemetryPayload{
			RegolithTons: regolith,
			EnergyLevel:  50 + g.rng.Intn(51),
		},
		Environment: fleet.Environment{
			Temperature: state.Temp,
			Radiation:   float64(g.poisson(5)) + g.uniform(0, 5),
		},
		BatteryVoltage: g.uniform(11, 13),
		Zone:           state.Zone,
	}
}

// SetHalted marks a robot halted or resumed. Halted robots freeze in place
// with zero velocity until resumed.
func (g *Generator) SetHalted(robotID int, halted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.states[robotID]
	if !ok {
		state = &fleet.RobotState{RobotID: robotID, Zone: fleet.ZoneFor(robotID, g.numZones)}
		g.states[robotID] = state
	}
	state.Halted = halted
	if halted {
		state.Velocity = fleet.Velocity{}
	}
}

// SetCooling activates cooling for a robot until the given time.
func (g *Generator) SetCooling(robotID int, until float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.states[robotID]; ok {
		state.CoolingUntil = until
	}
}

// State returns a copy of a robot's current state.
func (g *Generator) State(robotID int) (fleet.RobotState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.states[robotID]
	if !ok {
		return fleet.RobotState{}, false
	}
	return *state, true
}

func (g *Generator) advance(state *fleet.RobotState, dt, now float64) {
	if state.Halted {
		state.Velocity = fleet.Velocity{}
	} else {
		ax := g.uniform(-0.2, 0.2)
		ay := g.uniform(-0.2, 0.2)
		az := g.uniform(-0.08, 0.05)
		state.Velocity = fleet.Velocity{
			VX: state.Velocity.VX*velocityDamping + ax*dt,
			VY: state.Velocity.VY*velocityDamping + ay*dt,
			VZ: state.Velocity.VZ*velocityDamping + az*dt,
		}
		state.Position = fleet.Position{
			X: state.Position.X + state.Velocity.VX*dt,
			Y: state.Position.Y + state.Velocity.VY*dt,
			Z: state.Position.Z + state.Velocity.VZ*dt,
		}
	}

	delta := g.uniform(-5, 5) * dt
	if now < state.CoolingUntil {
		delta -= coolingRate * dt
	}
	state.Temp = math.Max(tempFloor, math.Min(tempCeiling, state.Temp+delta))
}

func (g *Generator) status(state *fleet.RobotState, now float64) string {
	switch {
	case state.Halted:
		return fleet.StatusHalted
	case now < state.CoolingUntil:
		return fleet.StatusCooling
	case state.Temp > overheatTemp:
		return fleet.StatusOverheating
	default:
		return idleStatuses[g.rng.Intn(len(idleStatuses))]
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// poisson draws a Poisson-distributed count via Knuth's method. Fine for
// small lambda; radiation uses lambda 5.
func (g *Generator) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= g.rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}
