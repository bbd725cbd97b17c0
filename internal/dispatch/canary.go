package dispatch

import "math"

// IsCanary reports whether a robot belongs to the canary set that receives
// live commands. The selection is a pure function of robot id and fraction,
// so the canary set is stable across restarts and identical on every node
// evaluating the same robot.
func IsCanary(robotID int, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}
	modulus := int(math.Round(1 / fraction))
	if modulus <= 1 {
		return true
	}
	return robotID%modulus == 0
}
