package dispatcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nomis52/msgflow/logging"
)

// InstanceState represents the current state of a workflow instance.
type InstanceState int

const (
	// InstanceRunning indicates the instance is executing.
	InstanceRunning InstanceState = iota
	// InstanceCompleted indicates the workflow reached a handled outcome.
	InstanceCompleted
	// InstanceFailed indicates the run was interrupted and the instance
	// is still pending in the history store.
	InstanceFailed
)

// String returns the string representation of the instance state.
func (s InstanceState) String() string {
	switch s {
	case InstanceRunning:
		return "running"
	case InstanceCompleted:
		return "completed"
	case InstanceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s InstanceState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (s *InstanceState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "running":
		*s = InstanceRunning
	case "completed":
		*s = InstanceCompleted
	case "failed":
		*s = InstanceFailed
	default:
		return fmt.Errorf("unknown instance state %q", name)
	}
	return nil
}

// InstanceStatus contains information about one tracked workflow instance.
type InstanceStatus struct {
	// InstanceID is the workflow instance id, equal to the message id.
	InstanceID string `json:"instance_id"`
	// ServiceID is the sending service, when known.
	ServiceID string `json:"service_id,omitempty"`
	// State is the current state of the instance.
	State InstanceState `json:"state"`
	// StartedAt is when this execution started.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the execution ended. Nil while running.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Error contains the interruption error for failed instances.
	Error string `json:"error,omitempty"`
	// CurrentStep is the live status line while running, e.g.
	// "running SendEmail (attempt 3/10)".
	CurrentStep string `json:"current_step,omitempty"`
}

// InstanceRecord is a finished instance with its captured logs.
type InstanceRecord struct {
	InstanceStatus
	Logs []logging.LogEntry `json:"logs,omitempty"`
}
