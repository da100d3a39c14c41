package workflow

import (
	"encoding/json"
	"time"
)

// Record is one completed activity invocation in an instance's history.
type Record struct {
	// Seq is the zero-based position of the invocation within the instance.
	Seq int `json:"seq"`
	// Activity is the invoked activity name.
	Activity string `json:"activity"`
	// Output is the encoded activity result.
	Output json.RawMessage `json:"output,omitempty"`
	// Attempts is how many attempts the invocation took.
	Attempts int `json:"attempts"`
	// CompletedAt is when the successful attempt finished.
	CompletedAt time.Time `json:"completed_at"`
}

// HistoryStore persists per-instance workflow history.
//
// Append must durably record the invocation before returning: the runner
// only advances the workflow once the record is persisted.
type HistoryStore interface {
	// Load returns the recorded history for an instance, in sequence order.
	// An unknown instance returns an empty history, not an error.
	Load(instanceID string) ([]Record, error)
	// Append adds a record to an instance's history.
	Append(instanceID string, rec Record) error
	// SetInput records the instance's input before execution begins, so
	// a crashed instance can be resumed with the same input.
	SetInput(instanceID string, input json.RawMessage) error
	// Input returns the recorded input for an instance, or nil when none
	// was recorded.
	Input(instanceID string) (json.RawMessage, error)
	// MarkDone marks an instance as completed.
	MarkDone(instanceID string) error
	// Pending returns the IDs of instances that have history but were
	// never marked done. These are candidates for resumption.
	Pending() ([]string, error)
}
