package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ActivityFunc is a single unit of work invoked by a workflow. Activities
// receive the encoded input and return an encoded output. They are expected
// to be idempotent or tolerant of at-least-once execution, since the
// substrate may retry them and will re-run them if a crash occurs between
// the activity completing and its result being recorded.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Registry maps activity names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ActivityFunc
}

// NewRegistry creates an empty activity registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]ActivityFunc),
	}
}

// Register adds an activity under the given name.
// Returns an error if the name is already taken.
func (r *Registry) Register(name string, fn ActivityFunc) error {
	if name == "" {
		return fmt.Errorf("activity name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("activity %s: function cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("activity %s already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the activity registered under name.
func (r *Registry) Lookup(name string) (ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns all registered activity names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
