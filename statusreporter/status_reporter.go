// Package statusreporter tracks the current execution step of each
// workflow instance.
//
// The Reporter implements workflow.StatusSink: the runner reports every
// live activity attempt, and the status API reads the map back out so an
// operator can see what each in-flight instance is doing right now.
//
// THREAD SAFETY:
// All methods are thread-safe and can be called from concurrent goroutines.
package statusreporter

import (
	"log/slog"
	"sync"
)

// Reporter holds the most recent status line per workflow instance.
type Reporter struct {
	statuses map[string]string
	logger   *slog.Logger
	mu       sync.RWMutex
}

// New creates a new Reporter.
// Each status change is automatically logged at Debug level.
func New(logger *slog.Logger) *Reporter {
	return &Reporter{
		statuses: make(map[string]string),
		logger:   logger,
	}
}

// SetStatus updates the current status for one workflow instance.
//
// The status string describes what the instance is currently doing, for
// example: "running SendEmail (attempt 3/10)".
func (r *Reporter) SetStatus(instanceID, status string) {
	// Log outside the lock to avoid holding it during I/O.
	r.logger.Debug(status, "instance_id", instanceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[instanceID] = status
}

// Clear removes the status entry for an instance, typically once the
// instance has finished.
func (r *Reporter) Clear(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, instanceID)
}

// CurrentStatuses returns a copy of all current instance statuses.
func (r *Reporter) CurrentStatuses() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.statuses))
	for id, status := range r.statuses {
		result[id] = status
	}
	return result
}
