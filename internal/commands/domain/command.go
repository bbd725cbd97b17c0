package commands

import (
	"time"

	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// Command lifecycle statuses.
const (
	StatusIssued       = "issued"
	StatusAccepted     = "accepted"
	StatusRejected     = "rejected"
	StatusRetrying     = "retrying"
	StatusDeadLettered = "dead_lettered"
	StatusCompleted    = "completed"
)

// Record tracks one logical command through the control plane. The embedded
// fleet.Command is the wire payload; Signature is over its canonical bytes.
type Record struct {
	Command   fleet.Command
	Signature []byte
	Status    string
	Reason    string
	Zone      int
	IssuedBy  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
