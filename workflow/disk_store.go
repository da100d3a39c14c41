package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DiskStore persists instance history to disk, one JSON file per instance.
type DiskStore struct {
	dir    string
	logger *slog.Logger

	instances map[string]*instanceFile // protected by mu
	mu        sync.Mutex
}

// instanceFile is the on-disk representation of one instance.
type instanceFile struct {
	Done    bool            `json:"done"`
	Input   json.RawMessage `json:"input,omitempty"`
	Records []Record        `json:"records"`
}

// NewDiskStore creates a new disk-backed history store.
// The directory is created if it doesn't exist, and existing instances are loaded.
func NewDiskStore(dir string, logger *slog.Logger) (*DiskStore, error) {
	s := &DiskStore{
		dir:       dir,
		logger:    logger,
		instances: make(map[string]*instanceFile),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// Load returns the recorded history for an instance.
func (s *DiskStore) Load(instanceID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, nil
	}
	result := make([]Record, len(inst.Records))
	copy(result, inst.Records)
	return result, nil
}

// validInstanceID reports whether the id is usable as a file name.
// Instance IDs arrive from untrusted input; anything that would resolve
// outside the history directory is refused.
func validInstanceID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

// Append adds a record to an instance's history and persists the file
// before returning.
func (s *DiskStore) Append(instanceID string, rec Record) error {
	if !validInstanceID(instanceID) {
		return fmt.Errorf("invalid instance id %q", instanceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		inst = &instanceFile{}
		s.instances[instanceID] = inst
	}
	inst.Records = append(inst.Records, rec)

	if err := s.write(instanceID, inst); err != nil {
		// Roll back the in-memory append so memory matches disk.
		inst.Records = inst.Records[:len(inst.Records)-1]
		return err
	}
	return nil
}

// SetInput records the instance's input and persists the file.
func (s *DiskStore) SetInput(instanceID string, input json.RawMessage) error {
	if !validInstanceID(instanceID) {
		return fmt.Errorf("invalid instance id %q", instanceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		inst = &instanceFile{}
		s.instances[instanceID] = inst
	}
	previous := inst.Input
	inst.Input = append(json.RawMessage(nil), input...)

	if err := s.write(instanceID, inst); err != nil {
		inst.Input = previous
		return err
	}
	return nil
}

// Input returns the recorded input for an instance.
func (s *DiskStore) Input(instanceID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.Input == nil {
		return nil, nil
	}
	return append(json.RawMessage(nil), inst.Input...), nil
}

// MarkDone marks an instance as completed and persists the file.
func (s *DiskStore) MarkDone(instanceID string) error {
	if !validInstanceID(instanceID) {
		return fmt.Errorf("invalid instance id %q", instanceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		inst = &instanceFile{}
		s.instances[instanceID] = inst
	}
	inst.Done = true
	return s.write(instanceID, inst)
}

// Pending returns started instances that were never marked done, sorted
// for stable sweep order.
func (s *DiskStore) Pending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0)
	for id, inst := range s.instances {
		if !inst.Done {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// write persists one instance file. Caller must hold mu.
func (s *DiskStore) write(instanceID string, inst *instanceFile) error {
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instanceID, err)
	}

	path := s.path(instanceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write instance file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace instance file: %w", err)
	}

	s.logger.Debug("persisted instance history", "instance_id", instanceID, "records", len(inst.Records))
	return nil
}

// load reads all instance files from disk.
func (s *DiskStore) load() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read history directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read instance file", "file", path, "error", err)
			continue
		}

		var inst instanceFile
		if err := json.Unmarshal(data, &inst); err != nil {
			s.logger.Warn("failed to parse instance file", "file", path, "error", err)
			continue
		}

		id := strings.TrimSuffix(file.Name(), ".json")
		s.instances[id] = &inst
	}

	s.logger.Info("loaded instance history from disk", "count", len(s.instances))
	return nil
}

func (s *DiskStore) path(instanceID string) string {
	return filepath.Join(s.dir, instanceID+".json")
}
