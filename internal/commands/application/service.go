package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	commandsevents "robot-fleet-cloud/internal/commands/application/events"
	commands "robot-fleet-cloud/internal/commands/domain"
	"robot-fleet-cloud/internal/dispatch"
	"robot-fleet-cloud/internal/eventing"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/fleet/security"
	"robot-fleet-cloud/internal/observability/metrics"
)

// Repository persists command lifecycle records.
type Repository interface {
	Create(ctx context.Context, record *commands.Record) error
	UpdateStatus(ctx context.Context, commandID, status, reason string, retryCount int) error
	Find(ctx context.Context, commandID string) (*commands.Record, error)
	ListByRobot(ctx context.Context, robotID, limit int) ([]commands.Record, error)
}

// DLQRecorder records dead-lettered commands.
type DLQRecorder interface {
	Record(ctx context.Context, cmd fleet.Command, reason string) error
}

// HaltPersistence persists halt state across restarts.
type HaltPersistence interface {
	Save(ctx context.Context, halt fleet.EmergencyHalt) error
	Delete(ctx context.Context, zone int) error
	ListActive(ctx context.Context) ([]fleet.EmergencyHalt, error)
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// IssueRequest represents a command issue request. DryRun distinguishes
// explicit false from unset so the canary default only applies when the
// caller left it blank.
type IssueRequest struct {
	RobotID       int          `json:"robot_id"`
	Action        string       `json:"action"`
	Params        fleet.Params `json:"params"`
	CorrelationID string       `json:"correlation_id"`
	DryRun        *bool        `json:"dry_run"`
	ExpiresAt     float64      `json:"expires_at"`
	Source        string       `json:"source"`
}

// IssueResponse is returned after issuing a command.
type IssueResponse struct {
	Command   fleet.Command `json:"command"`
	Signature []byte        `json:"signature"`
	Zone      int           `json:"zone"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Config holds service-level knobs.
type Config struct {
	CanaryFraction float64
	NumZones       int
	CommandTimeout time.Duration
	SigningKey     []byte
	Source         string
}

// Service issues commands and applies engine verdicts to the command
// lifecycle.
type Service struct {
	repo      Repository
	dlq       DLQRecorder
	halts     HaltPersistence
	engine    *dispatch.Engine
	publisher Publisher
	cfg       Config
}

// NewService constructs a command service.
func NewService(repo Repository, dlq DLQRecorder, halts HaltPersistence, engine *dispatch.Engine, publisher Publisher, cfg Config) (*Service, error) {
	if repo == nil {
		return nil, errors.New("commands: nil repo")
	}
	if engine == nil {
		return nil, errors.New("commands: nil engine")
	}
	if publisher == nil {
		return nil, errors.New("commands: nil publisher")
	}
	if cfg.CanaryFraction <= 0 || cfg.CanaryFraction > 1 {
		cfg.CanaryFraction = 0.1
	}
	if cfg.NumZones <= 0 {
		cfg.NumZones = 10
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 600 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "control"
	}
	return &Service{repo: repo, dlq: dlq, halts: halts, engine: engine, publisher: publisher, cfg: cfg}, nil
}

// Issue creates, signs, and records a command, then publishes
// CommandIssued. The canary gate decides the dry-run default for requests
// that leave it unset.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	if err := validateIssue(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	nowSec := float64(now.UnixNano()) / float64(time.Second)

	commandID := "cmd-" + buildShortID(fmt.Sprintf("%d|%s|%d", req.RobotID, req.Action, now.UnixNano()))
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = eventing.NewEventID()
	}

	dryRun := !dispatch.IsCanary(req.RobotID, s.cfg.CanaryFraction)
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	expiresAt := req.ExpiresAt
	if expiresAt == 0 {
		expiresAt = nowSec + s.cfg.CommandTimeout.Seconds()
	}

	cmd := fleet.Command{
		RobotID:       req.RobotID,
		Action:        req.Action,
		Params:        req.Params,
		CorrelationID: correlationID,
		IssuedAt:      nowSec,
		CommandID:     commandID,
		DryRun:        dryRun,
		ExpiresAt:     expiresAt,
	}

	var signature []byte
	if len(s.cfg.SigningKey) > 0 {
		message, err := cmd.SigningBytes()
		if err != nil {
			return nil, err
		}
		signature, err = security.Sign(message, s.cfg.SigningKey)
		if err != nil {
			return nil, err
		}
	}

	zone := fleet.ZoneFor(req.RobotID, s.cfg.NumZones)
	record := &commands.Record{
		Command:   cmd,
		Signature: signature,
		Status:    commands.StatusIssued,
		Zone:      zone,
		IssuedBy:  s.cfg.Source,
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	metrics.IncCommandIssued(s.cfg.Source, req.Action)

	eventID := eventing.NewEventID()
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithCorrelationID(ctx, correlationID)
	if err := s.publisher.Publish(ctx, commandsevents.CommandIssued{
		EventID:       eventID,
		CommandID:     commandID,
		CorrelationID: correlationID,
		RobotID:       req.RobotID,
		Zone:          zone,
		Action:        req.Action,
		DryRun:        dryRun,
		OccurredAt:    now,
	}); err != nil {
		return nil, err
	}

	return &IssueResponse{
		Command:   cmd,
		Signature: signature,
		Zone:      zone,
		Status:    commands.StatusIssued,
		CreatedAt: now,
	}, nil
}

// HandleDelivery evaluates one inbound delivery and applies the verdict to
// the command lifecycle. Rejections and malformed dead-letters each emit
// exactly one diagnostic record; the engine never fails silently.
func (s *Service) HandleDelivery(ctx context.Context, d dispatch.Delivery) (dispatch.Verdict, error) {
	start := time.Now()
	verdict, err := s.engine.Evaluate(ctx, d, start)
	if err != nil {
		return verdict, err
	}
	metrics.IncVerdict(string(verdict.Outcome))
	metrics.ObserveTransaction("dispatch", time.Since(start))

	cmd := d.Command
	switch verdict.Outcome {
	case dispatch.OutcomeAccepted:
		if err := s.repo.UpdateStatus(ctx, cmd.CommandID, commands.StatusAccepted, "", cmd.RetryCount); err != nil {
			return verdict, err
		}
		err = s.publishForCommand(ctx, cmd, commandsevents.CommandAccepted{
			EventID:       eventing.NewEventID(),
			CommandID:     cmd.CommandID,
			CorrelationID: cmd.CorrelationID,
			RobotID:       cmd.RobotID,
			DryRun:        verdict.DryRun,
			OccurredAt:    start,
		})
	case dispatch.OutcomeDeadLettered:
		err = s.deadLetter(ctx, cmd, verdict.Reason)
	case dispatch.OutcomeRejectedDuplicate:
		// An idempotence hit, not an error: drop without a completion.
	default:
		if cmd.CommandID != "" {
			if err := s.repo.UpdateStatus(ctx, cmd.CommandID, commands.StatusRejected, verdict.Reason, cmd.RetryCount); err != nil {
				return verdict, err
			}
		}
		err = s.publishForCommand(ctx, cmd, commandsevents.CommandRejected{
			EventID:       eventing.NewEventID(),
			CommandID:     cmd.CommandID,
			CorrelationID: cmd.CorrelationID,
			RobotID:       cmd.RobotID,
			Outcome:       string(verdict.Outcome),
			Reason:        verdict.Reason,
			OccurredAt:    start,
		})
	}
	return verdict, err
}

// HandleFailure routes a command whose execution the transport reported as
// failed. The transport has already incremented the retry count.
func (s *Service) HandleFailure(ctx context.Context, cmd fleet.Command) (dispatch.Verdict, error) {
	verdict := s.engine.OnFailure(cmd)
	metrics.IncVerdict(string(verdict.Outcome))

	if verdict.Outcome == dispatch.OutcomeDeadLettered {
		return verdict, s.deadLetter(ctx, cmd, verdict.Reason)
	}

	if err := s.repo.UpdateStatus(ctx, cmd.CommandID, commands.StatusRetrying, verdict.Reason, cmd.RetryCount); err != nil {
		return verdict, err
	}
	return verdict, s.publishForCommand(ctx, cmd, commandsevents.CommandRetryScheduled{
		EventID:       eventing.NewEventID(),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		RobotID:       cmd.RobotID,
		RetryCount:    cmd.RetryCount,
		Delay:         verdict.Delay,
		OccurredAt:    time.Now().UTC(),
	})
}

// HandleCompletion records a terminal completion reported by the transport.
func (s *Service) HandleCompletion(ctx context.Context, commandID string, completion fleet.Completion) error {
	metrics.IncCompletion(completion.Status)
	if commandID != "" {
		if err := s.repo.UpdateStatus(ctx, commandID, commands.StatusCompleted, completion.Status, 0); err != nil {
			return err
		}
	}
	return s.publisher.Publish(ctx, commandsevents.CommandCompleted{
		EventID:       eventing.NewEventID(),
		CommandID:     commandID,
		CorrelationID: completion.CorrelationID,
		RobotID:       completion.RobotID,
		Status:        completion.Status,
		OccurredAt:    time.Now().UTC(),
	})
}

// Halt applies an emergency halt and publishes HaltIssued. Re-applying an
// active halt is a no-op.
func (s *Service) Halt(ctx context.Context, zone int, reason, correlationID string) error {
	if reason == "" {
		return errors.New("commands: halt reason required")
	}
	now := time.Now().UTC()
	halt := fleet.EmergencyHalt{
		IssuedAt:      float64(now.UnixNano()) / float64(time.Second),
		Reason:        reason,
		Zone:          zone,
		CorrelationID: correlationID,
	}
	s.engine.Halts().Apply(halt)
	if s.halts != nil {
		if err := s.halts.Save(ctx, halt); err != nil {
			return err
		}
	}
	metrics.IncHaltEvent("applied")
	return s.publisher.Publish(ctx, commandsevents.HaltIssued{
		EventID:       eventing.NewEventID(),
		CorrelationID: correlationID,
		Zone:          zone,
		Reason:        reason,
		OccurredAt:    now,
	})
}

// Resume clears a halt and publishes HaltResumed.
func (s *Service) Resume(ctx context.Context, zone int) error {
	s.engine.Halts().Resume(zone)
	if s.halts != nil {
		if err := s.halts.Delete(ctx, zone); err != nil {
			return err
		}
	}
	metrics.IncHaltEvent("resumed")
	return s.publisher.Publish(ctx, commandsevents.HaltResumed{
		EventID:    eventing.NewEventID(),
		Zone:       zone,
		OccurredAt: time.Now().UTC(),
	})
}

// RestoreHalts rebuilds the halt gate from persisted state at startup.
func (s *Service) RestoreHalts(ctx context.Context) error {
	if s.halts == nil {
		return nil
	}
	active, err := s.halts.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, halt := range active {
		s.engine.Halts().Apply(halt)
	}
	return nil
}

// ActiveHalts lists halts currently held by the gate.
func (s *Service) ActiveHalts(ctx context.Context) ([]fleet.EmergencyHalt, error) {
	if s.halts != nil {
		return s.halts.ListActive(ctx)
	}
	return s.engine.Halts().Active(), nil
}

// Find returns the lifecycle record for a command id, nil when absent.
func (s *Service) Find(ctx context.Context, commandID string) (*commands.Record, error) {
	if commandID == "" {
		return nil, errors.New("commands: command id required")
	}
	return s.repo.Find(ctx, commandID)
}

// ListByRobot returns recent commands for a robot.
func (s *Service) ListByRobot(ctx context.Context, robotID, limit int) ([]commands.Record, error) {
	if robotID <= 0 {
		return nil, errors.New("commands: robot id required")
	}
	return s.repo.ListByRobot(ctx, robotID, limit)
}

func (s *Service) deadLetter(ctx context.Context, cmd fleet.Command, reason string) error {
	if s.dlq != nil && cmd.CommandID != "" {
		if err := s.dlq.Record(ctx, cmd, reason); err != nil {
			return err
		}
	}
	metrics.IncDLQ()
	if cmd.CommandID != "" {
		if err := s.repo.UpdateStatus(ctx, cmd.CommandID, commands.StatusDeadLettered, reason, cmd.RetryCount); err != nil {
			return err
		}
	}
	return s.publishForCommand(ctx, cmd, commandsevents.CommandDeadLettered{
		EventID:       eventing.NewEventID(),
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		RobotID:       cmd.RobotID,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	})
}

func (s *Service) publishForCommand(ctx context.Context, cmd fleet.Command, event any) error {
	if cmd.CorrelationID != "" {
		ctx = eventing.WithCorrelationID(ctx, cmd.CorrelationID)
	}
	return s.publisher.Publish(ctx, event)
}

func validateIssue(req IssueRequest) error {
	if req.RobotID <= 0 {
		return errors.New("commands: robot_id required")
	}
	if req.Action == "" {
		return errors.New("commands: action required")
	}
	if req.Params.DurationSec < 0 {
		return errors.New("commands: duration_sec must be non-negative")
	}
	return nil
}

func buildShortID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:8])
}
