package application

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	commandsevents "robot-fleet-cloud/internal/commands/application/events"
	commands "robot-fleet-cloud/internal/commands/domain"
	"robot-fleet-cloud/internal/commands/infrastructure/memory"
	"robot-fleet-cloud/internal/dispatch"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/fleet/security"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}

type serviceFixture struct {
	service   *Service
	repo      *memory.CommandRepository
	dlq       *memory.DLQRecorder
	publisher *recordingPublisher
}

func newServiceFixture(t *testing.T, cfg Config) *serviceFixture {
	t.Helper()
	engine, err := dispatch.NewEngine(dispatch.Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		CanaryFraction: cfg.CanaryFraction,
		NumZones:       cfg.NumZones,
	}, memory.NewIdempotencyStore(0), dispatch.NewHaltGate(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	repo := memory.NewCommandRepository()
	dlq := memory.NewDLQRecorder()
	publisher := &recordingPublisher{}
	service, err := NewService(repo, dlq, nil, engine, publisher, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{service: service, repo: repo, dlq: dlq, publisher: publisher}
}

func TestServiceIssue(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	resp, err := fx.service.Issue(ctx, IssueRequest{
		RobotID: 5,
		Action:  fleet.ActionExcavate,
		Params:  fleet.Params{DurationSec: 30},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(resp.Command.CommandID, "cmd-") {
		t.Fatalf("expected cmd- prefixed id, got %q", resp.Command.CommandID)
	}
	if resp.Command.CorrelationID == "" {
		t.Fatal("expected generated correlation id")
	}
	// Robot 5 is not a canary at fraction 0.1, so the default is dry run.
	if !resp.Command.DryRun {
		t.Fatal("expected dry-run default for a non-canary robot")
	}
	if resp.Command.ExpiresAt <= resp.Command.IssuedAt {
		t.Fatal("expected expiry after issue time")
	}
	if resp.Zone != 4 {
		t.Fatalf("robot 5 with 10 zones should map to zone 4, got %d", resp.Zone)
	}

	record, err := fx.repo.Find(ctx, resp.Command.CommandID)
	if err != nil || record == nil {
		t.Fatalf("expected persisted record, got %v err=%v", record, err)
	}
	if record.Status != commands.StatusIssued {
		t.Fatalf("expected status issued, got %q", record.Status)
	}

	events := fx.publisher.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	issued, ok := events[0].(commandsevents.CommandIssued)
	if !ok {
		t.Fatalf("expected CommandIssued, got %T", events[0])
	}
	if issued.CommandID != resp.Command.CommandID || !issued.DryRun {
		t.Fatalf("unexpected event payload: %+v", issued)
	}
}

func TestServiceIssue_ExplicitLiveRun(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})

	live := false
	resp, err := fx.service.Issue(context.Background(), IssueRequest{
		RobotID: 5,
		Action:  fleet.ActionMove,
		DryRun:  &live,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if resp.Command.DryRun {
		t.Fatal("explicit dry_run=false must override the canary default")
	}
}

func TestServiceIssue_SignsWithConfiguredKey(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10, SigningKey: private.Seed()})

	resp, err := fx.service.Issue(context.Background(), IssueRequest{
		RobotID: 3,
		Action:  fleet.ActionCooldown,
		Params:  fleet.Params{DurationSec: 60},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	message, err := resp.Command.SigningBytes()
	if err != nil {
		t.Fatalf("SigningBytes: %v", err)
	}
	if !security.Verify(message, resp.Signature, public) {
		t.Fatal("issued signature should verify against the control public key")
	}
}

func TestServiceIssue_Validation(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	cases := []IssueRequest{
		{Action: fleet.ActionMove},                     // missing robot
		{RobotID: 1},                                   // missing action
		{RobotID: 1, Action: fleet.ActionExcavate, Params: fleet.Params{DurationSec: -1}},
	}
	for _, req := range cases {
		if _, err := fx.service.Issue(context.Background(), req); err == nil {
			t.Fatalf("expected validation error for %+v", req)
		}
	}
}

func TestServiceHandleDelivery_Accepted(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	resp, err := fx.service.Issue(ctx, IssueRequest{RobotID: 5, Action: fleet.ActionExcavate})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cmd := resp.Command

	verdict, err := fx.service.HandleDelivery(ctx, dispatch.Delivery{Command: cmd})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeAccepted {
		t.Fatalf("expected Accepted, got %s (%s)", verdict.Outcome, verdict.Reason)
	}

	record, _ := fx.repo.Find(ctx, cmd.CommandID)
	if record.Status != commands.StatusAccepted {
		t.Fatalf("expected status accepted, got %q", record.Status)
	}

	events := fx.publisher.all()
	if _, ok := events[len(events)-1].(commandsevents.CommandAccepted); !ok {
		t.Fatalf("expected CommandAccepted last, got %T", events[len(events)-1])
	}
}

func TestServiceHandleDelivery_DuplicateDropsSilently(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	resp, err := fx.service.Issue(ctx, IssueRequest{RobotID: 5, Action: fleet.ActionExcavate})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cmd := resp.Command

	if _, err := fx.service.HandleDelivery(ctx, dispatch.Delivery{Command: cmd}); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	eventsBefore := len(fx.publisher.all())

	verdict, err := fx.service.HandleDelivery(ctx, dispatch.Delivery{Command: cmd})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeRejectedDuplicate {
		t.Fatalf("expected Duplicate, got %s", verdict.Outcome)
	}
	// No completion, no status change, no event.
	if len(fx.publisher.all()) != eventsBefore {
		t.Fatal("duplicate delivery should not publish events")
	}
	record, _ := fx.repo.Find(ctx, cmd.CommandID)
	if record.Status != commands.StatusAccepted {
		t.Fatalf("duplicate delivery should not change status, got %q", record.Status)
	}
}

func TestServiceHandleDelivery_MalformedDeadLetters(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	cmd := fleet.Command{CommandID: "cmd-broken", RobotID: 0, Action: fleet.ActionMove}
	verdict, err := fx.service.HandleDelivery(ctx, dispatch.Delivery{Command: cmd})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeDeadLettered {
		t.Fatalf("expected DeadLettered, got %s", verdict.Outcome)
	}
	entries := fx.dlq.Entries()
	if len(entries) != 1 || entries[0].Command.CommandID != "cmd-broken" {
		t.Fatalf("expected one DLQ entry for cmd-broken, got %+v", entries)
	}
	events := fx.publisher.all()
	if _, ok := events[len(events)-1].(commandsevents.CommandDeadLettered); !ok {
		t.Fatalf("expected CommandDeadLettered, got %T", events[len(events)-1])
	}
}

func TestServiceHandleFailure(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	resp, err := fx.service.Issue(ctx, IssueRequest{RobotID: 5, Action: fleet.ActionExcavate})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cmd := resp.Command

	cmd.RetryCount = 2
	verdict, err := fx.service.HandleFailure(ctx, cmd)
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeRetryScheduled {
		t.Fatalf("expected RetryScheduled, got %s", verdict.Outcome)
	}
	if verdict.Delay != 4*time.Second {
		t.Fatalf("retry 2: expected 4s delay, got %s", verdict.Delay)
	}
	record, _ := fx.repo.Find(ctx, cmd.CommandID)
	if record.Status != commands.StatusRetrying {
		t.Fatalf("expected status retrying, got %q", record.Status)
	}

	cmd.RetryCount = 5
	verdict, err = fx.service.HandleFailure(ctx, cmd)
	if err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeDeadLettered {
		t.Fatalf("expected DeadLettered at retry 5, got %s", verdict.Outcome)
	}
	if len(fx.dlq.Entries()) != 1 {
		t.Fatalf("expected one DLQ entry, got %d", len(fx.dlq.Entries()))
	}
	record, _ = fx.repo.Find(ctx, cmd.CommandID)
	if record.Status != commands.StatusDeadLettered {
		t.Fatalf("expected status dead_lettered, got %q", record.Status)
	}
}

func TestServiceHandleCompletion(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	resp, err := fx.service.Issue(ctx, IssueRequest{RobotID: 5, Action: fleet.ActionExcavate})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	err = fx.service.HandleCompletion(ctx, resp.Command.CommandID, fleet.Completion{
		RobotID:       5,
		CorrelationID: resp.Command.CorrelationID,
		Status:        fleet.CompletionSuccess,
	})
	if err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	record, _ := fx.repo.Find(ctx, resp.Command.CommandID)
	if record.Status != commands.StatusCompleted {
		t.Fatalf("expected status completed, got %q", record.Status)
	}
	events := fx.publisher.all()
	if _, ok := events[len(events)-1].(commandsevents.CommandCompleted); !ok {
		t.Fatalf("expected CommandCompleted, got %T", events[len(events)-1])
	}
}

func TestServiceHaltAndResume(t *testing.T) {
	fx := newServiceFixture(t, Config{CanaryFraction: 0.1, NumZones: 10})
	ctx := context.Background()

	if err := fx.service.Halt(ctx, 3, "coolant leak", "corr-1"); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if err := fx.service.Halt(ctx, fleet.ZoneAll, "solar flare", "corr-2"); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	// A command for any zone now rejects as halted.
	resp, err := fx.service.Issue(ctx, IssueRequest{RobotID: 100, Action: fleet.ActionMove})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verdict, err := fx.service.HandleDelivery(ctx, dispatch.Delivery{Command: resp.Command})
	if err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if verdict.Outcome != dispatch.OutcomeRejectedHalted {
		t.Fatalf("expected Halted under fleet-wide halt, got %s", verdict.Outcome)
	}
	record, _ := fx.repo.Find(ctx, resp.Command.CommandID)
	if record.Status != commands.StatusRejected {
		t.Fatalf("expected status rejected, got %q", record.Status)
	}

	active, err := fx.service.ActiveHalts(ctx)
	if err != nil {
		t.Fatalf("ActiveHalts: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active halts, got %d", len(active))
	}

	if err := fx.service.Resume(ctx, fleet.ZoneAll); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	active, _ = fx.service.ActiveHalts(ctx)
	if len(active) != 0 {
		t.Fatalf("resume all should clear every halt, got %d", len(active))
	}

	var haltEvents, resumeEvents int
	for _, event := range fx.publisher.all() {
		switch event.(type) {
		case commandsevents.HaltIssued:
			haltEvents++
		case commandsevents.HaltResumed:
			resumeEvents++
		}
	}
	if haltEvents != 2 || resumeEvents != 1 {
		t.Fatalf("expected 2 HaltIssued and 1 HaltResumed, got %d and %d", haltEvents, resumeEvents)
	}
}

func TestServiceHalt_RequiresReason(t *testing.T) {
	fx := newServiceFixture(t, Config{})
	if err := fx.service.Halt(context.Background(), 1, "", ""); err == nil {
		t.Fatal("expected error for empty halt reason")
	}
}
