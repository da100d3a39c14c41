package processor

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/msgflow/metrics"
)

// Telemetry event names, one per major workflow transition.
const (
	EventDecodeInput              = "DECODE_INPUT"
	EventStoreMessageDecode       = "STORE_MESSAGE_DECODE"
	EventUpdateNotificationStatus = "UPDATE_NOTIFICATION_STATUS"
	EventNoChannel                = "NO_CHANNEL"
	EventEmailSent                = "EMAIL_SENT"
	EventWebhook                  = "WEBHOOK"
	EventUpdateMessageStatus      = "UPDATE_MESSAGE_STATUS"
)

// Event is one structured telemetry record emitted by the coordinator.
type Event struct {
	Name      string
	Success   bool
	MessageID string
	ServiceID string
	// Details carries the failure reason, the affected channel, or the
	// written status. Empty on plain successes.
	Details string
}

// Tracker accepts telemetry events. Fire-and-forget: the coordinator
// never consumes a response.
type Tracker interface {
	Track(event Event)
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func(Event)

// Track implements Tracker.
func (f TrackerFunc) Track(event Event) {
	f(event)
}

// ReplayGate wraps a tracker so that events are suppressed while the
// workflow is replaying recorded history. Without the gate every replay
// would double-count each transition.
func ReplayGate(inner Tracker, replaying func() bool) Tracker {
	return TrackerFunc(func(event Event) {
		if replaying() {
			return
		}
		inner.Track(event)
	})
}

// MetricsTracker emits each event as a counter increment labeled by event
// name and success flag, plus a structured log line carrying the full
// record.
type MetricsTracker struct {
	events metrics.CounterVec
	logger *slog.Logger
}

// NewMetricsTracker creates a tracker backed by the given metrics registry.
func NewMetricsTracker(registry metrics.Registry, logger *slog.Logger) (*MetricsTracker, error) {
	events, err := registry.NewCounterVec(prometheus.CounterOpts{
		Name: "message_processing_events_total",
		Help: "Message processing workflow transitions by event name and success.",
	}, []string{"event", "success"})
	if err != nil {
		return nil, err
	}
	return &MetricsTracker{
		events: events,
		logger: logger,
	}, nil
}

// Track implements Tracker.
func (t *MetricsTracker) Track(event Event) {
	t.events.With(prometheus.Labels{
		"event":   event.Name,
		"success": strconv.FormatBool(event.Success),
	}).Inc()

	t.logger.Info("message processing event",
		"event", event.Name,
		"success", event.Success,
		"message_id", event.MessageID,
		"service_id", event.ServiceID,
		"details", event.Details,
	)
}
