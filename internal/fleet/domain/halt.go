package fleet

// ZoneAll is the reserved zone sentinel that targets the entire fleet.
const ZoneAll = -1

// EmergencyHalt stops an entire zone, or the whole fleet when Zone is
// ZoneAll. Halts are monotonic: only an explicit resume clears them.
type EmergencyHalt struct {
	IssuedAt      float64 `json:"issued_at"`
	Reason        string  `json:"reason"`
	Zone          int     `json:"zone"`
	CorrelationID string  `json:"correlation_id"`
}

// ZoneFor assigns a robot to a zone by id.
func ZoneFor(robotID, numZones int) int {
	if numZones <= 0 {
		return 0
	}
	return (robotID - 1) % numZones
}
