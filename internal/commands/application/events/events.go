package events

import "time"

// CommandIssued is emitted when a control center creates a command.
type CommandIssued struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	RobotID       int       `json:"robot_id"`
	Zone          int       `json:"zone"`
	Action        string    `json:"action"`
	DryRun        bool      `json:"dry_run"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CommandAccepted is emitted when the engine accepts a command for
// execution.
type CommandAccepted struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	RobotID       int       `json:"robot_id"`
	DryRun        bool      `json:"dry_run"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CommandRejected is emitted for every rejection verdict.
type CommandRejected struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	RobotID       int       `json:"robot_id"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CommandRetryScheduled is emitted when a failed command is scheduled for
// redelivery.
type CommandRetryScheduled struct {
	EventID       string        `json:"event_id"`
	CommandID     string        `json:"command_id"`
	CorrelationID string        `json:"correlation_id"`
	RobotID       int           `json:"robot_id"`
	RetryCount    int           `json:"retry_count"`
	Delay         time.Duration `json:"delay"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// CommandDeadLettered is emitted when a command is routed to the DLQ.
type CommandDeadLettered struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	RobotID       int       `json:"robot_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CommandCompleted is emitted when the transport reports a terminal
// completion for a command.
type CommandCompleted struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	RobotID       int       `json:"robot_id"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HaltIssued is emitted when an emergency halt is applied.
type HaltIssued struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id"`
	Zone          int       `json:"zone"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HaltResumed is emitted when an operator clears a halt.
type HaltResumed struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id"`
	Zone          int       `json:"zone"`
	OccurredAt    time.Time `json:"occurred_at"`
}
