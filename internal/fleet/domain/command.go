package fleet

import "encoding/json"

// Command actions understood by the fleet.
const (
	ActionExcavate = "excavate"
	ActionMove     = "move"
	ActionCooldown = "cooldown"
	ActionHalt     = "halt"
)

// Params carries action-specific parameters.
type Params struct {
	DurationSec int `json:"duration_sec"`
}

// Command is a signed instruction for a single robot. Timestamps are epoch
// seconds to stay wire-compatible with the fleet bus schemas. CommandID is
// stable across retries of the same logical command; RetryCount is
// incremented by the transport once per redelivery.
type Command struct {
	RobotID       int     `json:"robot_id"`
	Action        string  `json:"action"`
	Params        Params  `json:"params"`
	CorrelationID string  `json:"correlation_id"`
	IssuedAt      float64 `json:"issued_at"`
	CommandID     string  `json:"command_id"`
	DryRun        bool    `json:"dry_run"`
	ExpiresAt     float64 `json:"expires_at"`
	RetryCount    int     `json:"retry_count"`
}

// SigningBytes returns the canonical byte encoding used for signing and
// verification. RetryCount is zeroed so the signature survives redelivery.
func (c Command) SigningBytes() ([]byte, error) {
	canonical := c
	canonical.RetryCount = 0
	return json.Marshal(canonical)
}

// Malformed reports whether the command is structurally invalid. Such
// commands are dead-lettered immediately; retrying them cannot succeed.
func (c Command) Malformed() bool {
	return c.CommandID == "" || c.RobotID <= 0 || c.Action == ""
}

// Expired reports whether the command is past its expiry at the given
// time. A zero ExpiresAt means the command never expires.
func (c Command) Expired(now float64) bool {
	return c.ExpiresAt != 0 && now > c.ExpiresAt
}
