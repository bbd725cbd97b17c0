package dispatch

import "time"

// Outcome classifies the result of a command evaluation.
type Outcome string

const (
	OutcomeAccepted             Outcome = "accepted"
	OutcomeRejectedBadSignature Outcome = "rejected_bad_signature"
	OutcomeRejectedDuplicate    Outcome = "rejected_duplicate"
	OutcomeRejectedExpired      Outcome = "rejected_expired"
	OutcomeRejectedHalted       Outcome = "rejected_halted"
	OutcomeRetryScheduled       Outcome = "retry_scheduled"
	OutcomeDeadLettered         Outcome = "dead_lettered"
)

// Verdict is the engine's decision for a single command evaluation. The
// transport layer owns the verdict once returned: it performs the actual
// send, retry scheduling, or DLQ publish.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	// DryRun applies to accepted verdicts: the command executes as a
	// simulation unless the robot is in the canary set or the command
	// explicitly requested a live run.
	DryRun bool `json:"dry_run"`
	// Delay applies to retry verdicts. It is advisory; the transport's
	// timer facility schedules the redelivery.
	Delay time.Duration `json:"delay,omitempty"`
	// Reason is a human-readable explanation for every terminal
	// non-success outcome.
	Reason string `json:"reason,omitempty"`
}

// Rejected reports whether the verdict is a rejection.
func (v Verdict) Rejected() bool {
	switch v.Outcome {
	case OutcomeRejectedBadSignature, OutcomeRejectedDuplicate, OutcomeRejectedExpired, OutcomeRejectedHalted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the verdict ends the command's lifecycle in
// this engine. Accepted commands continue to execution; retry-scheduled
// commands come back through the retry path.
func (v Verdict) Terminal() bool {
	return v.Rejected() || v.Outcome == OutcomeDeadLettered
}
