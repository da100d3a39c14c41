package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// StatusSink receives live execution status updates, keyed by instance.
// Updates are emitted only for live activity calls, never during replay.
type StatusSink interface {
	SetStatus(instanceID, status string)
}

// Runner drives workflow instances against a registry of activities,
// recording every completed invocation in the history store.
type Runner struct {
	registry *Registry
	store    HistoryStore
	status   StatusSink
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets a custom logger for the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger.With("component", "workflow")
	}
}

// WithStatusSink directs live per-attempt status updates to sink.
func WithStatusSink(sink StatusSink) RunnerOption {
	return func(r *Runner) {
		r.status = sink
	}
}

// NewRunner creates a new Runner.
func NewRunner(registry *Registry, store HistoryStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		store:    store,
		logger:   slog.Default().With("component", "workflow"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one workflow instance to completion. If the instance has
// recorded history (a previous execution crashed mid-workflow), the
// workflow function is replayed against it and only unrecorded invocations
// actually call activities.
//
// The instance is marked done only when fn returns nil. A non-nil error
// means the execution was interrupted (cancellation, storage failure,
// history divergence) and the instance stays pending so a later sweep can
// resume it. The substrate never re-runs a workflow from the top on its
// own.
func (r *Runner) Run(ctx context.Context, instanceID string, fn Func, input json.RawMessage) error {
	history, err := r.store.Load(instanceID)
	if err != nil {
		return fmt.Errorf("loading history for instance %s: %w", instanceID, err)
	}

	if len(history) == 0 {
		// First execution: persist the input so a crash before the first
		// recorded activity still leaves enough to resume from.
		if err := r.store.SetInput(instanceID, input); err != nil {
			return fmt.Errorf("persisting input for instance %s: %w", instanceID, err)
		}
	}

	h := &host{
		runner:     r,
		instanceID: instanceID,
		history:    history,
		replaying:  len(history) > 0,
		logger:     r.logger.With("instance_id", instanceID),
	}

	if h.replaying {
		h.logger.Info("resuming instance from history", "records", len(history))
	}

	if err := fn(ctx, h, input); err != nil {
		return err
	}

	if err := r.store.MarkDone(instanceID); err != nil {
		h.logger.Error("failed to mark instance done", "error", err)
	}
	return nil
}

// Resume re-runs a pending instance from its persisted input and history.
// It fails if no input was recorded for the instance.
func (r *Runner) Resume(ctx context.Context, instanceID string, fn Func) error {
	input, err := r.store.Input(instanceID)
	if err != nil {
		return fmt.Errorf("loading input for instance %s: %w", instanceID, err)
	}
	if input == nil {
		return fmt.Errorf("instance %s has no recorded input", instanceID)
	}
	return r.Run(ctx, instanceID, fn, input)
}

// host implements Host for a single instance execution.
type host struct {
	runner     *Runner
	instanceID string
	logger     *slog.Logger

	history []Record
	cursor  int
	// replaying starts true when history exists and flips false at the
	// first live activity call. It does NOT flip when the cursor merely
	// reaches the end of history: a fully recorded instance replays its
	// trailing workflow code with IsReplaying still true.
	replaying bool
}

// IsReplaying implements Host.
func (h *host) IsReplaying() bool {
	return h.replaying
}

// Invoke implements Host.
func (h *host) Invoke(ctx context.Context, name string, input json.RawMessage, policy RetryPolicy) (json.RawMessage, error) {
	// Serve from history while replaying.
	if h.cursor < len(h.history) {
		rec := h.history[h.cursor]
		if rec.Activity != name {
			return nil, fmt.Errorf("%w: instance %s seq %d recorded %s, workflow invoked %s",
				ErrHistoryDivergence, h.instanceID, h.cursor, rec.Activity, name)
		}
		h.cursor++
		h.logger.Debug("served activity result from history", "activity", name, "seq", rec.Seq)
		return rec.Output, nil
	}

	// First live call ends the replay phase.
	h.replaying = false

	fn, ok := h.runner.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, name)
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if h.runner.status != nil {
			h.runner.status.SetStatus(h.instanceID,
				fmt.Sprintf("running %s (attempt %d/%d)", name, attempt, attempts))
		}
		output, err := fn(ctx, input)
		if err == nil {
			rec := Record{
				Seq:         h.cursor,
				Activity:    name,
				Output:      output,
				Attempts:    attempt,
				CompletedAt: time.Now().UTC(),
			}
			// Persist before advancing: the workflow must never observe
			// a result that could be lost in a crash.
			if err := h.runner.store.Append(h.instanceID, rec); err != nil {
				return nil, fmt.Errorf("recording result of %s: %w", name, err)
			}
			h.history = append(h.history, rec)
			h.cursor++
			return output, nil
		}

		last = err
		h.logger.Warn("activity attempt failed",
			"activity", name, "attempt", attempt, "max_attempts", attempts, "error", err)

		if attempt < attempts {
			if err := sleep(ctx, policy.Interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &ExhaustedError{Activity: name, Attempts: attempts, Last: last}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
