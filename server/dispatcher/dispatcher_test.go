package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/msgflow/logging"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/statusreporter"
	"github.com/nomis52/msgflow/workflow"
)

var testRetry = workflow.RetryPolicy{Interval: time.Millisecond, MaxAttempts: 3}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nopTracker() processor.Tracker {
	return processor.TrackerFunc(func(processor.Event) {})
}

func testEvent(messageID string) (processor.MessageEvent, []byte) {
	event := processor.MessageEvent{
		Message: processor.Message{
			ID:              messageID,
			RecipientID:     "RCPT-1",
			SenderServiceID: "S1",
			CreatedAt:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
			Content: processor.MessageContent{
				Subject:  "A subject",
				Markdown: "Some *markdown* body long enough to carry meaning.",
			},
		},
		SenderMetadata: processor.SenderMetadata{
			ServiceName:      "Test Service",
			OrganizationName: "Test Org",
			DepartmentName:   "Test Dept",
		},
		SchemaVersion: processor.SchemaVersion,
	}
	raw, _ := json.Marshal(event)
	return event, raw
}

// happyRegistry registers all six activities with canned successful
// outputs, optionally gating the content-store activity on release.
func happyRegistry(t *testing.T, release <-chan struct{}) *workflow.Registry {
	t.Helper()
	reg := workflow.NewRegistry()

	storeContent := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return json.RawMessage(`{"kind":"SUCCESS","blocked_channels":[],"profile":{"email":"rcpt@example.com"}}`), nil
	}
	createNotification := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"kind":"CHANNELS","has_email":true,"event":{"notification_id":"N1","message":{"id":"M1"},"email_address":"rcpt@example.com"}}`), nil
	}
	sendEmail := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"kind":"SUCCESS"}`), nil
	}
	ack := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}

	require.NoError(t, reg.Register(processor.ActivityStoreMessageContent, storeContent))
	require.NoError(t, reg.Register(processor.ActivityCreateNotification, createNotification))
	require.NoError(t, reg.Register(processor.ActivitySendEmail, sendEmail))
	require.NoError(t, reg.Register(processor.ActivitySendWebhook, sendEmail))
	require.NoError(t, reg.Register(processor.ActivityUpdateNotificationStatus, ack))
	require.NoError(t, reg.Register(processor.ActivityUpdateMessageStatus, ack))
	return reg
}

func newTestDispatcher(t *testing.T, reg *workflow.Registry, store workflow.HistoryStore) (*Dispatcher, *statusreporter.Reporter) {
	t.Helper()
	reporter := statusreporter.New(testLogger())
	runner := workflow.NewRunner(reg, store,
		workflow.WithLogger(testLogger()),
		workflow.WithStatusSink(reporter))
	d := New(runner, store, testRetry, nopTracker(),
		WithLogger(testLogger()),
		WithStatusReporter(reporter),
		WithLogCollector(logging.NewLogCollector()))
	return d, reporter
}

func waitForState(t *testing.T, d *Dispatcher, instanceID string, state InstanceState) InstanceStatus {
	t.Helper()
	var found InstanceStatus
	require.Eventually(t, func() bool {
		for _, st := range d.Statuses() {
			if st.InstanceID == instanceID && st.State == state {
				found = st
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return found
}

func TestDispatcher_StartAndComplete(t *testing.T) {
	store := workflow.NewMemoryStore()
	d, _ := newTestDispatcher(t, happyRegistry(t, nil), store)

	event, raw := testEvent("M1")
	id, err := d.Start(event, raw)
	require.NoError(t, err)
	assert.Equal(t, "M1", id)

	st := waitForState(t, d, "M1", InstanceCompleted)
	assert.Equal(t, "S1", st.ServiceID)
	assert.NotNil(t, st.EndedAt)
	assert.Empty(t, st.Error)

	// Completed instances are not pending in the history store.
	pending, err := store.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// History carries the captured instance logs.
	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, "M1", history[0].InstanceID)
	assert.NotEmpty(t, history[0].Logs)
}

func TestDispatcher_DuplicateInFlight(t *testing.T) {
	release := make(chan struct{})
	store := workflow.NewMemoryStore()
	d, _ := newTestDispatcher(t, happyRegistry(t, release), store)

	event, raw := testEvent("M1")
	_, err := d.Start(event, raw)
	require.NoError(t, err)

	// Same message again while the first run is blocked inside an
	// activity.
	_, err = d.Start(event, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstanceInFlight)
	assert.Equal(t, 1, d.RunningCount())

	close(release)
	waitForState(t, d, "M1", InstanceCompleted)
	assert.Equal(t, 0, d.RunningCount())

	// A finished instance can be started again.
	_, err = d.Start(event, raw)
	require.NoError(t, err)
	waitForState(t, d, "M1", InstanceCompleted)
}

func TestDispatcher_CurrentStepWhileRunning(t *testing.T) {
	release := make(chan struct{})
	store := workflow.NewMemoryStore()
	d, _ := newTestDispatcher(t, happyRegistry(t, release), store)

	event, raw := testEvent("M1")
	_, err := d.Start(event, raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, st := range d.Statuses() {
			if st.InstanceID == "M1" && st.CurrentStep != "" {
				assert.Equal(t, "running StoreMessageContent (attempt 1/3)", st.CurrentStep)
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)

	close(release)
	st := waitForState(t, d, "M1", InstanceCompleted)
	assert.Empty(t, st.CurrentStep, "finished instances carry no live step")
}

func TestDispatcher_SweepResumesPending(t *testing.T) {
	store := workflow.NewMemoryStore()

	// An instance that was accepted but crashed before finishing: input
	// persisted, never marked done.
	_, raw := testEvent("M9")
	require.NoError(t, store.SetInput("M9", raw))

	d, _ := newTestDispatcher(t, happyRegistry(t, nil), store)
	require.NoError(t, d.Sweep(context.Background()))

	st := waitForState(t, d, "M9", InstanceCompleted)
	assert.NotNil(t, st.EndedAt)

	pending, err := store.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_SweepSkipsInFlight(t *testing.T) {
	release := make(chan struct{})
	store := workflow.NewMemoryStore()
	d, _ := newTestDispatcher(t, happyRegistry(t, release), store)

	event, raw := testEvent("M1")
	_, err := d.Start(event, raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pending, err := store.Pending()
		return err == nil && len(pending) == 1
	}, 2*time.Second, 2*time.Millisecond)

	// The running instance is pending in the store but must not be
	// resumed concurrently.
	require.NoError(t, d.Sweep(context.Background()))
	assert.Equal(t, 1, d.RunningCount())

	close(release)
	waitForState(t, d, "M1", InstanceCompleted)
}

func TestDispatcher_GetLogs(t *testing.T) {
	store := workflow.NewMemoryStore()
	d, _ := newTestDispatcher(t, happyRegistry(t, nil), store)

	event, raw := testEvent("M1")
	_, err := d.Start(event, raw)
	require.NoError(t, err)
	waitForState(t, d, "M1", InstanceCompleted)

	logs, err := d.GetLogs("M1")
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	_, err = d.GetLogs("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no logs for instance")
}

// fakeGauge records the last value set.
type fakeGauge struct {
	mu   sync.Mutex
	last float64
}

func (g *fakeGauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = v
}

func (g *fakeGauge) value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func TestDispatcher_RunningGauge(t *testing.T) {
	release := make(chan struct{})
	store := workflow.NewMemoryStore()
	reporter := statusreporter.New(testLogger())
	runner := workflow.NewRunner(happyRegistry(t, release), store,
		workflow.WithLogger(testLogger()),
		workflow.WithStatusSink(reporter))

	gauge := &fakeGauge{}
	d := New(runner, store, testRetry, nopTracker(),
		WithLogger(testLogger()),
		WithStatusReporter(reporter),
		WithRunningGauge(gauge))

	event, raw := testEvent("M1")
	_, err := d.Start(event, raw)
	require.NoError(t, err)
	assert.Equal(t, float64(1), gauge.value())

	close(release)
	waitForState(t, d, "M1", InstanceCompleted)
	assert.Equal(t, float64(0), gauge.value())
}
