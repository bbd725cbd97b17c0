package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	commands "robot-fleet-cloud/internal/commands/domain"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// CommandRepository is an in-memory command repository for tests and demos.
type CommandRepository struct {
	mu      sync.Mutex
	records map[string]*commands.Record
}

// NewCommandRepository constructs an empty repository.
func NewCommandRepository() *CommandRepository {
	return &CommandRepository{records: make(map[string]*commands.Record)}
}

// Create inserts a new command record.
func (r *CommandRepository) Create(ctx context.Context, record *commands.Record) error {
	if r == nil {
		return errors.New("command repo: nil repo")
	}
	if record == nil || record.Command.CommandID == "" {
		return errors.New("command repo: empty command id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.Command.CommandID]; exists {
		return errors.New("command repo: duplicate command id")
	}
	copied := *record
	r.records[record.Command.CommandID] = &copied
	return nil
}

// UpdateStatus transitions a command's status with a reason. Unknown ids
// are a no-op, matching the SQL UPDATE.
func (r *CommandRepository) UpdateStatus(ctx context.Context, commandID, status, reason string, retryCount int) error {
	if r == nil {
		return errors.New("command repo: nil repo")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[commandID]
	if !ok {
		return nil
	}
	record.Status = status
	record.Reason = reason
	record.Command.RetryCount = retryCount
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// Find returns a command record by id, or nil when absent.
func (r *CommandRepository) Find(ctx context.Context, commandID string) (*commands.Record, error) {
	if r == nil {
		return nil, errors.New("command repo: nil repo")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[commandID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

// ListByRobot returns recent commands for one robot, newest first.
func (r *CommandRepository) ListByRobot(ctx context.Context, robotID, limit int) ([]commands.Record, error) {
	if r == nil {
		return nil, errors.New("command repo: nil repo")
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []commands.Record
	for _, record := range r.records {
		if record.Command.RobotID == robotID {
			result = append(result, *record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DLQRecorder is an in-memory dead-letter store for tests.
type DLQRecorder struct {
	mu      sync.Mutex
	entries []DLQEntry
}

// DLQEntry is one dead-lettered command with its reason.
type DLQEntry struct {
	Command fleet.Command
	Reason  string
}

// NewDLQRecorder constructs an empty recorder.
func NewDLQRecorder() *DLQRecorder {
	return &DLQRecorder{}
}

// Record appends a dead-letter entry.
func (d *DLQRecorder) Record(ctx context.Context, cmd fleet.Command, reason string) error {
	if d == nil {
		return errors.New("dlq recorder: nil recorder")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, DLQEntry{Command: cmd, Reason: reason})
	return nil
}

// Entries returns a copy of recorded entries.
func (d *DLQRecorder) Entries() []DLQEntry {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DLQEntry(nil), d.entries...)
}
