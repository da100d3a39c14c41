package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/msgflow/metrics"
)

func TestReplayGate(t *testing.T) {
	tracker := &recorder{}
	replaying := true
	gated := ReplayGate(tracker, func() bool { return replaying })

	gated.Track(Event{Name: EventEmailSent, Success: true})
	assert.Empty(t, tracker.events, "replayed events must be suppressed")

	replaying = false
	gated.Track(Event{Name: EventEmailSent, Success: true})
	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventEmailSent, tracker.events[0].Name)
}

func TestMetricsTracker(t *testing.T) {
	registry, err := metrics.NewScrapeRegistry()
	require.NoError(t, err)
	tracker, err := NewMetricsTracker(registry, quietLogger())
	require.NoError(t, err)

	tracker.Track(Event{Name: EventWebhook, Success: true, MessageID: "M1", ServiceID: "S1"})
	tracker.Track(Event{Name: EventWebhook, Success: false, MessageID: "M2", ServiceID: "S1", Details: "connection refused"})
	tracker.Track(Event{Name: EventWebhook, Success: true, MessageID: "M3", ServiceID: "S2"})

	// Counter registration is idempotent per name, so a second tracker on
	// the same registry must fail.
	_, err = NewMetricsTracker(registry, quietLogger())
	assert.Error(t, err)
}
