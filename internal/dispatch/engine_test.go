package dispatch

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"robot-fleet-cloud/internal/commands/infrastructure/memory"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/fleet/security"
)

func newTestEngine(t *testing.T, trustedKeys [][]byte) *Engine {
	t.Helper()
	cfg := Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		CommandTimeout: 600 * time.Second,
		CanaryFraction: 0.1,
		NumZones:       10,
	}
	engine, err := NewEngine(cfg, memory.NewIdempotencyStore(0), NewHaltGate(), trustedKeys)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func testCommand(commandID string, robotID int, now time.Time) fleet.Command {
	return fleet.Command{
		RobotID:   robotID,
		Action:    fleet.ActionExcavate,
		Params:    fleet.Params{DurationSec: 30},
		CommandID: commandID,
		IssuedAt:  epochSeconds(now),
		ExpiresAt: epochSeconds(now.Add(600 * time.Second)),
	}
}

func deliver(t *testing.T, engine *Engine, cmd fleet.Command, now time.Time) Verdict {
	t.Helper()
	message, err := cmd.SigningBytes()
	if err != nil {
		t.Fatalf("SigningBytes: %v", err)
	}
	verdict, err := engine.Evaluate(context.Background(), Delivery{Command: cmd, Message: message}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return verdict
}

func TestEngine_EndToEndLifecycle(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()
	cmd := testCommand("cmd-123", 5, now)

	// Robot 5 is not in the 10% canary set, so the first evaluation runs
	// as a dry run.
	verdict := deliver(t, engine, cmd, now)
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("first delivery: expected Accepted, got %s (%s)", verdict.Outcome, verdict.Reason)
	}
	if !verdict.DryRun {
		t.Fatal("first delivery: expected dry run for a non-canary robot")
	}

	// Redelivery of the same command id is an idempotence hit.
	verdict = deliver(t, engine, cmd, now.Add(time.Second))
	if verdict.Outcome != OutcomeRejectedDuplicate {
		t.Fatalf("redelivery: expected Duplicate, got %s", verdict.Outcome)
	}

	// Five recorded execution failures exhaust the retries.
	for retry := 0; retry < 5; retry++ {
		cmd.RetryCount = retry
		failed := engine.OnFailure(cmd)
		if failed.Outcome != OutcomeRetryScheduled {
			t.Fatalf("retry %d: expected RetryScheduled, got %s", retry, failed.Outcome)
		}
		want := time.Second << uint(retry)
		if failed.Delay != want {
			t.Fatalf("retry %d: expected delay %s, got %s", retry, want, failed.Delay)
		}
	}
	cmd.RetryCount = 5
	failed := engine.OnFailure(cmd)
	if failed.Outcome != OutcomeDeadLettered {
		t.Fatalf("retry 5: expected DeadLettered, got %s", failed.Outcome)
	}
}

func TestEngine_CanaryRobotRunsLive(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	// Robot 10 is in the canary set at fraction 0.1.
	verdict := deliver(t, engine, testCommand("cmd-canary", 10, now), now)
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("expected Accepted, got %s", verdict.Outcome)
	}
	if verdict.DryRun {
		t.Fatal("canary robot should run live")
	}
}

func TestEngine_ExplicitDryRunSticks(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	cmd := testCommand("cmd-dry", 10, now)
	cmd.DryRun = true
	verdict := deliver(t, engine, cmd, now)
	if verdict.Outcome != OutcomeAccepted || !verdict.DryRun {
		t.Fatalf("explicit dry run must stay dry even for a canary, got %s dry_run=%v", verdict.Outcome, verdict.DryRun)
	}
}

func TestEngine_MalformedCommandDeadLetters(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	cases := []fleet.Command{
		{RobotID: 5, Action: fleet.ActionMove},                          // missing command id
		{CommandID: "cmd-bad-robot", RobotID: 0, Action: fleet.ActionMove}, // missing robot
		{CommandID: "cmd-bad-action", RobotID: 5},                       // missing action
	}
	for _, cmd := range cases {
		verdict, err := engine.Evaluate(context.Background(), Delivery{Command: cmd}, now)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if verdict.Outcome != OutcomeDeadLettered {
			t.Fatalf("malformed command %+v: expected DeadLettered, got %s", cmd, verdict.Outcome)
		}
	}
}

func TestEngine_ExpiredCommandRejected(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	cmd := testCommand("cmd-expired", 5, now)
	cmd.ExpiresAt = epochSeconds(now.Add(-time.Millisecond))
	verdict := deliver(t, engine, cmd, now)
	if verdict.Outcome != OutcomeRejectedExpired {
		t.Fatalf("expected Expired, got %s", verdict.Outcome)
	}

	// Just inside the expiry window the command still passes.
	cmd = testCommand("cmd-fresh", 5, now)
	cmd.ExpiresAt = epochSeconds(now.Add(time.Millisecond))
	verdict = deliver(t, engine, cmd, now)
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("expected Accepted just before expiry, got %s (%s)", verdict.Outcome, verdict.Reason)
	}
}

func TestEngine_ZeroExpiryNeverExpires(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	cmd := testCommand("cmd-forever", 5, now)
	cmd.ExpiresAt = 0
	verdict := deliver(t, engine, cmd, now.Add(24*time.Hour))
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("expected Accepted with zero expiry, got %s", verdict.Outcome)
	}
}

func TestEngine_HaltPrecedence(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	// Robot 15 sits in zone 4 with 10 zones.
	engine.Halts().Apply(fleet.EmergencyHalt{Zone: 4, Reason: "pressure drop"})

	verdict := deliver(t, engine, testCommand("cmd-halted", 15, now), now)
	if verdict.Outcome != OutcomeRejectedHalted {
		t.Fatalf("expected Halted, got %s", verdict.Outcome)
	}

	// Other zones are unaffected.
	verdict = deliver(t, engine, testCommand("cmd-other-zone", 16, now), now)
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("zone 5 should accept, got %s", verdict.Outcome)
	}

	// A fleet-wide halt rejects every zone, canary robots included.
	engine.Halts().Apply(fleet.EmergencyHalt{Zone: fleet.ZoneAll, Reason: "solar flare"})
	for _, robotID := range []int{1, 10, 500, 999} {
		verdict = deliver(t, engine, testCommand(fmt.Sprintf("cmd-fleet-%d", robotID), robotID, now), now)
		if verdict.Outcome != OutcomeRejectedHalted {
			t.Fatalf("robot %d: expected Halted under fleet-wide halt, got %s", robotID, verdict.Outcome)
		}
	}

	engine.Halts().Resume(fleet.ZoneAll)
	verdict = deliver(t, engine, testCommand("cmd-resumed", 15, now), now)
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("after resume: expected Accepted, got %s", verdict.Outcome)
	}
}

func TestEngine_SignatureVerification(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	engine := newTestEngine(t, [][]byte{public})
	now := time.Now()

	cmd := testCommand("cmd-signed", 5, now)
	message, err := cmd.SigningBytes()
	if err != nil {
		t.Fatalf("SigningBytes: %v", err)
	}
	signature, err := security.Sign(message, private.Seed())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verdict, err := engine.Evaluate(context.Background(), Delivery{Command: cmd, Message: message, Signature: signature}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("valid signature: expected Accepted, got %s (%s)", verdict.Outcome, verdict.Reason)
	}

	// Signature survives transport retries because RetryCount is excluded
	// from the canonical bytes.
	retried := cmd
	retried.RetryCount = 3
	retried.CommandID = "cmd-signed-retry"
	retriedMessage, _ := retried.SigningBytes()
	retriedSig, err := security.Sign(retriedMessage, private.Seed())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	verdict, err = engine.Evaluate(context.Background(), Delivery{Command: retried, Message: retriedMessage, Signature: retriedSig}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("retried command: expected Accepted, got %s", verdict.Outcome)
	}

	// Tampering with the message invalidates the signature.
	tampered := append([]byte{}, message...)
	tampered[0] ^= 0xff
	verdict, err = engine.Evaluate(context.Background(), Delivery{Command: cmd, Message: tampered, Signature: signature}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeRejectedBadSignature {
		t.Fatalf("tampered message: expected BadSignature, got %s", verdict.Outcome)
	}

	// A missing signature fails closed once keys are configured.
	verdict, err = engine.Evaluate(context.Background(), Delivery{Command: cmd, Message: message}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeRejectedBadSignature {
		t.Fatalf("missing signature: expected BadSignature, got %s", verdict.Outcome)
	}
}

func TestEngine_EmptyTrustedSetFailsOpen(t *testing.T) {
	engine := newTestEngine(t, nil)
	now := time.Now()

	cmd := testCommand("cmd-unsigned", 5, now)
	verdict, err := engine.Evaluate(context.Background(), Delivery{Command: cmd}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeAccepted {
		t.Fatalf("empty trusted set: expected Accepted, got %s", verdict.Outcome)
	}
}

func TestEngine_SignatureCheckedBeforeStructure(t *testing.T) {
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	engine := newTestEngine(t, [][]byte{public})
	now := time.Now()

	// Malformed and unsigned: the signature failure wins.
	verdict, err := engine.Evaluate(context.Background(), Delivery{Command: fleet.Command{}}, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Outcome != OutcomeRejectedBadSignature {
		t.Fatalf("expected BadSignature before the malformed check, got %s", verdict.Outcome)
	}
}
