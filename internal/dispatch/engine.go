// Package dispatch implements the command delivery and trust engine: the
// per-command decision of whether a signed command is authentic,
// non-duplicate, unexpired, and permitted to run live or as a dry run, with
// emergency-halt state taking precedence over execution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/fleet/security"
)

// Config is the immutable engine configuration, passed at construction.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CommandTimeout time.Duration
	CanaryFraction float64
	NumZones       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		CommandTimeout: 600 * time.Second,
		CanaryFraction: 0.1,
		NumZones:       10,
	}
}

// Delivery is one inbound command evaluation: the decoded command plus the
// canonical message bytes and signature from the wire. The canonical
// encoding is supplied by the caller and must match what the signer used.
type Delivery struct {
	Command   fleet.Command
	Message   []byte
	Signature []byte
}

// Engine renders a verdict per inbound command. Evaluation is stateless
// apart from the shared idempotency store and halt gate; evaluations for
// different command ids may run concurrently.
type Engine struct {
	cfg         Config
	retry       RetryPolicy
	idempotency IdempotencyStore
	halts       *HaltGate
	trustedKeys [][]byte
}

// NewEngine constructs an engine.
func NewEngine(cfg Config, store IdempotencyStore, halts *HaltGate, trustedKeys [][]byte) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil idempotency store")
	}
	if halts == nil {
		halts = NewHaltGate()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.CanaryFraction <= 0 || cfg.CanaryFraction > 1 {
		cfg.CanaryFraction = 0.1
	}
	if cfg.NumZones <= 0 {
		cfg.NumZones = 10
	}
	return &Engine{
		cfg:         cfg,
		retry:       RetryPolicy{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff, MaxBackoff: cfg.MaxBackoff},
		idempotency: store,
		halts:       halts,
		trustedKeys: trustedKeys,
	}, nil
}

// Halts exposes the shared halt gate.
func (e *Engine) Halts() *HaltGate {
	if e == nil {
		return nil
	}
	return e.halts
}

// Retry exposes the retry policy.
func (e *Engine) Retry() RetryPolicy {
	if e == nil {
		return RetryPolicy{}
	}
	return e.retry
}

// Evaluate renders the verdict for one delivery. Checks run in strict
// order: signature, structure, duplicate, expiry, halt. Halt is checked
// after duplicate and expiry so already-executed or stale commands are
// never reported as halted, but it overrides canary and execution once
// reached.
func (e *Engine) Evaluate(ctx context.Context, d Delivery, now time.Time) (Verdict, error) {
	if e == nil {
		return Verdict{}, errors.New("dispatch: nil engine")
	}

	if !security.VerifyTrusted(d.Message, d.Signature, e.trustedKeys) {
		return Verdict{
			Outcome: OutcomeRejectedBadSignature,
			Reason:  "signature did not validate against any trusted key",
		}, nil
	}

	cmd := d.Command
	if cmd.Malformed() {
		return Verdict{
			Outcome: OutcomeDeadLettered,
			Reason:  fmt.Sprintf("malformed command: command_id=%q robot_id=%d action=%q", cmd.CommandID, cmd.RobotID, cmd.Action),
		}, nil
	}

	first, err := e.idempotency.CheckAndRecord(ctx, cmd.CommandID, now)
	if err != nil {
		return Verdict{}, fmt.Errorf("dispatch: idempotency check for %s: %w", cmd.CommandID, err)
	}
	if !first {
		return Verdict{
			Outcome: OutcomeRejectedDuplicate,
			Reason:  "command " + cmd.CommandID + " already executed",
		}, nil
	}

	if cmd.Expired(epochSeconds(now)) {
		return Verdict{
			Outcome: OutcomeRejectedExpired,
			Reason:  fmt.Sprintf("command %s expired at %.3f", cmd.CommandID, cmd.ExpiresAt),
		}, nil
	}

	zone := fleet.ZoneFor(cmd.RobotID, e.cfg.NumZones)
	if halt, active := e.halts.ActiveHalt(zone); active {
		return Verdict{
			Outcome: OutcomeRejectedHalted,
			Reason:  "emergency halt active: " + halt.Reason,
		}, nil
	}

	dryRun := cmd.DryRun
	if !dryRun {
		dryRun = !IsCanary(cmd.RobotID, e.cfg.CanaryFraction)
	}
	return Verdict{Outcome: OutcomeAccepted, DryRun: dryRun}, nil
}

// OnFailure routes a command whose execution the transport reported as
// failed: schedule a retry with exponential backoff, or dead-letter once
// retries are exhausted. The transport has already incremented RetryCount
// for this attempt.
func (e *Engine) OnFailure(cmd fleet.Command) Verdict {
	if e == nil {
		return Verdict{}
	}
	if e.retry.ShouldDeadLetter(cmd.RetryCount) {
		return Verdict{
			Outcome: OutcomeDeadLettered,
			Reason:  fmt.Sprintf("command %s exhausted %d retries", cmd.CommandID, cmd.RetryCount),
		}
	}
	return Verdict{
		Outcome: OutcomeRetryScheduled,
		Delay:   e.retry.NextBackoff(cmd.RetryCount),
		Reason:  fmt.Sprintf("execution failed, retry %d of %d", cmd.RetryCount+1, e.cfg.MaxRetries),
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
