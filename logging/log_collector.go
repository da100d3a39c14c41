package logging

import (
	"sync"
	"time"
)

// LogEntry is a single captured log record.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes"`
}

// LogCollector stores log entries keyed by workflow instance id so the
// history API can show what happened inside each instance.
type LogCollector struct {
	mu   sync.RWMutex
	logs map[string][]LogEntry
}

// NewLogCollector creates an empty LogCollector.
func NewLogCollector() *LogCollector {
	return &LogCollector{
		logs: make(map[string][]LogEntry),
	}
}

// AddLog appends a log entry for the given instance.
func (c *LogCollector) AddLog(instanceID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[instanceID] = append(c.logs[instanceID], entry)
}

// GetLogs returns a copy of the entries captured for one instance.
func (c *LogCollector) GetLogs(instanceID string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, exists := c.logs[instanceID]
	if !exists {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// GetAllLogs returns a deep copy of all captured logs keyed by instance.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]LogEntry, len(c.logs))
	for instanceID, logs := range c.logs {
		logsCopy := make([]LogEntry, len(logs))
		copy(logsCopy, logs)
		result[instanceID] = logsCopy
	}
	return result
}

// Drop removes the entries for one instance, for when an instance is
// evicted from the history view.
func (c *LogCollector) Drop(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, instanceID)
}

// Clear removes all stored logs.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]LogEntry)
}
