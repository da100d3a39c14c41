package workflow

import (
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore keeps instance history in memory only (no persistence).
// Useful for tests and for the oneshot CLI, where crash recovery is not
// meaningful.
type MemoryStore struct {
	histories map[string][]Record
	inputs    map[string]json.RawMessage
	done      map[string]bool
	mu        sync.Mutex
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories: make(map[string][]Record),
		inputs:    make(map[string]json.RawMessage),
		done:      make(map[string]bool),
	}
}

// Load returns the recorded history for an instance.
func (s *MemoryStore) Load(instanceID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.histories[instanceID]
	result := make([]Record, len(records))
	copy(result, records)
	return result, nil
}

// Append adds a record to an instance's history.
func (s *MemoryStore) Append(instanceID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[instanceID] = append(s.histories[instanceID], rec)
	return nil
}

// SetInput records the instance's input.
func (s *MemoryStore) SetInput(instanceID string, input json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs[instanceID] = append(json.RawMessage(nil), input...)
	return nil
}

// Input returns the recorded input for an instance.
func (s *MemoryStore) Input(instanceID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input, ok := s.inputs[instanceID]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), input...), nil
}

// MarkDone marks an instance as completed.
func (s *MemoryStore) MarkDone(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done[instanceID] = true
	return nil
}

// Pending returns started instances that were never marked done, sorted
// for stable sweep order.
func (s *MemoryStore) Pending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool, len(s.histories)+len(s.inputs))
	for id := range s.histories {
		known[id] = true
	}
	for id := range s.inputs {
		known[id] = true
	}

	pending := make([]string, 0)
	for id := range known {
		if !s.done[id] {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending, nil
}
