package fleet

// Completion statuses.
const (
	CompletionSuccess  = "success"
	CompletionFailure  = "failure"
	CompletionRejected = "rejected"
	CompletionTimeout  = "timeout"
)

// Diagnostics carries the outcome detail of a command execution.
type Diagnostics struct {
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	DurationMS float64  `json:"duration_ms"`
}

// Completion is the terminal record for a command. Exactly one completion
// is produced per terminal outcome of a command id.
type Completion struct {
	RobotID       int         `json:"robot_id"`
	CorrelationID string      `json:"correlation_id"`
	Status        string      `json:"status"`
	Timestamp     float64     `json:"timestamp"`
	Diagnostics   Diagnostics `json:"diagnostics"`
}
