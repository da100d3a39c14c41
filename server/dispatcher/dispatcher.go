// Package dispatcher manages workflow instance execution for the msgflow
// server.
//
// The dispatcher handles:
//   - Starting one workflow instance per accepted message, in the background
//   - Rejecting a message that is already being processed
//   - Tracking per-instance state and captured logs
//   - Resuming pending instances left behind by a crash (the cron sweep)
//
// # Example
//
//	d := dispatcher.New(runner, store, retry, tracker)
//
//	id, err := d.Start(event, raw)
//	if err != nil {
//	    if errors.Is(err, dispatcher.ErrInstanceInFlight) {
//	        // Duplicate message - already being processed
//	    }
//	}
//
//	// Check live state
//	for _, st := range d.Statuses() {
//	    fmt.Printf("%s [%s]: %s\n", st.InstanceID, st.State, st.CurrentStep)
//	}
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nomis52/msgflow/logging"
	"github.com/nomis52/msgflow/metrics"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/statusreporter"
	"github.com/nomis52/msgflow/workflow"
)

const defaultMaxHistorySize = 100

// ErrInstanceInFlight is returned when a message is already being processed.
var ErrInstanceInFlight = errors.New("message is already being processed")

// Dispatcher starts and tracks workflow instances. One instance is keyed
// by its message id, so a crashed instance resumes under the same id.
type Dispatcher struct {
	runner  *workflow.Runner
	store   workflow.HistoryStore
	retry   workflow.RetryPolicy
	tracker processor.Tracker

	logger     *slog.Logger
	reporter   *statusreporter.Reporter
	collector  *logging.LogCollector
	hook       logging.LoggerHook
	running    metrics.Gauge
	maxHistory int

	mu        sync.Mutex
	instances map[string]*InstanceStatus
	order     []string // insertion order, for history trimming
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher. Instance logs are
// derived from this logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger.With("component", "dispatcher")
	}
}

// WithStatusReporter attaches a reporter whose per-instance status lines
// are surfaced in Statuses(). The reporter should also be installed on
// the workflow runner as its status sink.
func WithStatusReporter(reporter *statusreporter.Reporter) Option {
	return func(d *Dispatcher) {
		d.reporter = reporter
	}
}

// WithLogCollector captures each instance's logs so the history API can
// return them.
func WithLogCollector(collector *logging.LogCollector) Option {
	return func(d *Dispatcher) {
		d.collector = collector
		d.hook = logging.NewCapturingLoggerHook(collector)
	}
}

// WithRunningGauge keeps the gauge equal to the number of in-flight
// instances.
func WithRunningGauge(gauge metrics.Gauge) Option {
	return func(d *Dispatcher) {
		d.running = gauge
	}
}

// New creates a new Dispatcher. The retry policy and tracker are used to
// build the coordinator for every instance.
func New(runner *workflow.Runner, store workflow.HistoryStore, retry workflow.RetryPolicy, tracker processor.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:     runner,
		store:      store,
		retry:      retry,
		tracker:    tracker,
		logger:     slog.Default().With("component", "dispatcher"),
		maxHistory: defaultMaxHistorySize,
		instances:  make(map[string]*InstanceStatus),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches one workflow instance for a decoded message event, in
// the background. The instance id is the message id.
// Returns ErrInstanceInFlight if the message is already being processed.
func (d *Dispatcher) Start(event processor.MessageEvent, raw []byte) (string, error) {
	instanceID := event.Message.ID
	if !d.tryStart(instanceID, event.Message.SenderServiceID) {
		return "", ErrInstanceInFlight
	}

	d.logger.Info("starting workflow instance",
		"instance_id", instanceID, "service_id", event.Message.SenderServiceID)

	go func() {
		err := d.runner.Run(context.Background(), instanceID, d.workflowFunc(instanceID), raw)
		d.finish(instanceID, err)
	}()

	return instanceID, nil
}

// Sweep resumes every pending instance that is not currently in flight.
// Instances are resumed sequentially; the sweep error aggregates the
// individual failures. Implements cron.Sweeper.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	pending, err := d.store.Pending()
	if err != nil {
		return fmt.Errorf("listing pending instances: %w", err)
	}

	var errs []error
	for _, instanceID := range pending {
		if !d.tryStart(instanceID, "") {
			continue
		}
		d.logger.Info("resuming pending instance", "instance_id", instanceID)

		err := d.runner.Resume(ctx, instanceID, d.workflowFunc(instanceID))
		d.finish(instanceID, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", instanceID, err))
		}
	}
	return errors.Join(errs...)
}

// Statuses returns a snapshot of all tracked instances, most recently
// started first. Running instances include their current step.
func (d *Dispatcher) Statuses() []InstanceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	var statuses map[string]string
	if d.reporter != nil {
		statuses = d.reporter.CurrentStatuses()
	}

	result := make([]InstanceStatus, 0, len(d.instances))
	for _, inst := range d.instances {
		st := *inst
		if st.State == InstanceRunning {
			st.CurrentStep = statuses[st.InstanceID]
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

// RunningCount returns the number of in-flight instances.
func (d *Dispatcher) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningLocked()
}

// History returns finished instances with their captured logs, most
// recently started first.
func (d *Dispatcher) History() []InstanceRecord {
	statuses := d.Statuses()

	result := make([]InstanceRecord, 0, len(statuses))
	for _, st := range statuses {
		if st.State == InstanceRunning {
			continue
		}
		rec := InstanceRecord{InstanceStatus: st}
		if d.collector != nil {
			rec.Logs = d.collector.GetLogs(st.InstanceID)
		}
		result = append(result, rec)
	}
	return result
}

// GetLogs returns the captured logs for one tracked instance.
func (d *Dispatcher) GetLogs(instanceID string) ([]logging.LogEntry, error) {
	d.mu.Lock()
	_, tracked := d.instances[instanceID]
	d.mu.Unlock()

	if !tracked || d.collector == nil {
		return nil, fmt.Errorf("no logs for instance %s", instanceID)
	}
	return d.collector.GetLogs(instanceID), nil
}

// workflowFunc builds the workflow function for one instance, with its
// logs captured under the instance id.
func (d *Dispatcher) workflowFunc(instanceID string) workflow.Func {
	logger := d.logger
	if d.hook != nil {
		logger = d.hook.LoggerForInstance(d.logger, instanceID)
	}
	coordinator := processor.NewCoordinator(d.retry, d.tracker, processor.WithLogger(logger))
	return coordinator.Process
}

// tryStart registers an instance as running.
// Returns false if the instance is already in flight.
func (d *Dispatcher) tryStart(instanceID, serviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst, ok := d.instances[instanceID]; ok {
		if inst.State == InstanceRunning {
			return false
		}
		// A finished instance can be started again, e.g. a sweep retrying
		// a previously failed one. Its previous logs are superseded.
		if d.collector != nil {
			d.collector.Drop(instanceID)
		}
	} else {
		d.order = append(d.order, instanceID)
	}

	d.instances[instanceID] = &InstanceStatus{
		InstanceID: instanceID,
		ServiceID:  serviceID,
		State:      InstanceRunning,
		StartedAt:  time.Now(),
	}
	d.updateGaugeLocked()
	return true
}

// finish records the outcome of an instance run.
func (d *Dispatcher) finish(instanceID string, err error) {
	if d.reporter != nil {
		d.reporter.Clear(instanceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	inst, ok := d.instances[instanceID]
	if !ok {
		return
	}

	now := time.Now()
	inst.EndedAt = &now
	if err != nil {
		inst.State = InstanceFailed
		inst.Error = err.Error()
		d.logger.Error("workflow instance interrupted",
			"instance_id", instanceID, "error", err, "duration", now.Sub(inst.StartedAt))
	} else {
		inst.State = InstanceCompleted
		d.logger.Info("workflow instance completed",
			"instance_id", instanceID, "duration", now.Sub(inst.StartedAt))
	}

	d.trimLocked()
	d.updateGaugeLocked()
}

// trimLocked evicts the oldest finished instances beyond the history
// cap, along with their captured logs. Caller must hold mu.
func (d *Dispatcher) trimLocked() {
	for len(d.order) > d.maxHistory {
		evicted := false
		for i, id := range d.order {
			if d.instances[id].State == InstanceRunning {
				continue
			}
			delete(d.instances, id)
			if d.collector != nil {
				d.collector.Drop(id)
			}
			d.order = append(d.order[:i], d.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (d *Dispatcher) runningLocked() int {
	count := 0
	for _, inst := range d.instances {
		if inst.State == InstanceRunning {
			count++
		}
	}
	return count
}

// updateGaugeLocked syncs the running gauge. Caller must hold mu.
func (d *Dispatcher) updateGaugeLocked() {
	if d.running == nil {
		return
	}
	d.running.Set(float64(d.runningLocked()))
}
