package broker

import "errors"

// Control events consumed by the agent.
const (
	BackupStart  = "backup_start"
	BackupStop   = "backup_stop"
	BackupRunNow = "backup_run_now"
)

// Events published by the agent.
const (
	BackupProgress = "backup_progress"
	BackupLog      = "backup_log"
	BackupStatus   = "backup_status"
)

// ErrUnknownEventType is raised when receiving unhandled event from broker.
var ErrUnknownEventType = errors.New("unknown event type")

// Message is the message event format.
type Message struct {
	EventType string `json:"event_type"`
	MachineID string `json:"machine_id"`
	CreatedAt string `json:"created_at"`

	// For backup_start.
	SourcePath      string `json:"source_path,omitempty"`
	DestinationPath string `json:"destination_path,omitempty"`
	Frequency       int    `json:"frequency,omitempty"`
	TimeUnit        string `json:"time_unit,omitempty"`

	// For published progress, log and status events.
	State     string  `json:"state,omitempty"`
	NextRunAt string  `json:"next_run_at,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	ETA       string  `json:"eta,omitempty"`
	Line      string  `json:"line,omitempty"`
	Error     string  `json:"error,omitempty"`
}
