package fleet

// Position is a robot's location in fleet coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Velocity is a robot's velocity vector.
type Velocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

// RobotState is the compacted per-robot state record. Halted is computed
// by the halt gate, never set directly by a command.
type RobotState struct {
	RobotID      int      `json:"robot_id"`
	Position     Position `json:"position"`
	Velocity     Velocity `json:"velocity"`
	Temp         float64  `json:"temp"`
	CoolingUntil float64  `json:"cooling_until"`
	Halted       bool     `json:"halted"`
	Zone         int      `json:"zone"`
}

// Robot statuses reported in telemetry.
const (
	StatusNominal     = "nominal"
	StatusExcavating  = "excavating"
	StatusMoving      = "moving"
	StatusDustJam     = "dust_jam"
	StatusHalted      = "halted"
	StatusCooling     = "cooling"
	StatusOverheating = "overheating"
)

// TelemetryPayload reports work output.
type TelemetryPayload struct {
	RegolithTons float64 `json:"regolith_tons"`
	EnergyLevel  int     `json:"energy_level"`
}

// Environment reports ambient readings.
type Environment struct {
	Temperature float64 `json:"temperature"`
	Radiation   float64 `json:"radiation"`
}

// Telemetry is a periodic robot report.
type Telemetry struct {
	RobotID        int              `json:"robot_id"`
	Timestamp      float64          `json:"timestamp"`
	Position       Position         `json:"position"`
	Velocity       Velocity         `json:"velocity"`
	Status         string           `json:"status"`
	Payload        TelemetryPayload `json:"payload"`
	Environment    Environment      `json:"environment"`
	BatteryVoltage float64          `json:"battery_voltage"`
	Zone           int              `json:"zone"`
}

// IdempotencyRecord marks a command id as executed. Keyed externally by
// command id; only the latest record per key is authoritative.
type IdempotencyRecord struct {
	ExecutedAt float64 `json:"executed_at"`
}
