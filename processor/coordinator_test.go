package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/msgflow/workflow"
)

// Test Helpers
// ---------------------------------------------------------------------

var testRetry = workflow.RetryPolicy{Interval: time.Millisecond, MaxAttempts: 10}

// invocation records one activity call made by the coordinator.
type invocation struct {
	Name  string
	Input json.RawMessage
}

// scripted is one scripted activity response.
type scripted struct {
	Output json.RawMessage
	Err    error
}

// fakeHost serves scripted results per activity name and records every
// invocation in order.
type fakeHost struct {
	results     map[string][]scripted
	invocations []invocation
	replaying   bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{results: make(map[string][]scripted)}
}

func (h *fakeHost) on(name string, output string) {
	h.results[name] = append(h.results[name], scripted{Output: json.RawMessage(output)})
}

func (h *fakeHost) onErr(name string, err error) {
	h.results[name] = append(h.results[name], scripted{Err: err})
}

func (h *fakeHost) Invoke(ctx context.Context, name string, input json.RawMessage, policy workflow.RetryPolicy) (json.RawMessage, error) {
	h.invocations = append(h.invocations, invocation{Name: name, Input: input})
	queue := h.results[name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unscripted activity %s", name)
	}
	next := queue[0]
	h.results[name] = queue[1:]
	return next.Output, next.Err
}

func (h *fakeHost) IsReplaying() bool {
	return h.replaying
}

// invoked returns the names of all invoked activities in order.
func (h *fakeHost) invoked() []string {
	names := make([]string, len(h.invocations))
	for i, inv := range h.invocations {
		names[i] = inv.Name
	}
	return names
}

// recorder collects tracked telemetry events.
type recorder struct {
	events []Event
}

func (r *recorder) Track(event Event) {
	r.events = append(r.events, event)
}

func (r *recorder) names() []string {
	names := make([]string, len(r.events))
	for i, event := range r.events {
		names[i] = event.Name
	}
	return names
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(tracker Tracker) *Coordinator {
	return NewCoordinator(testRetry, tracker, WithLogger(quietLogger()))
}

func testEvent(messageID string) json.RawMessage {
	event := MessageEvent{
		Message: Message{
			ID:              messageID,
			RecipientID:     "RCPT-1",
			SenderServiceID: "S1",
			CreatedAt:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
			Content: MessageContent{
				Subject:  "A subject",
				Markdown: "Some *markdown* body long enough to carry meaning.",
			},
		},
		SenderMetadata: SenderMetadata{
			ServiceName:      "Test Service",
			OrganizationName: "Test Org",
			DepartmentName:   "Test Dept",
		},
		SchemaVersion: SchemaVersion,
	}
	raw, _ := json.Marshal(event)
	return raw
}

func storeSuccess() string {
	return `{"kind":"SUCCESS","blocked_channels":[],"profile":{"email":"rcpt@example.com"}}`
}

func planChannels(hasEmail, hasWebhook bool) string {
	plan := NotificationPlan{
		Kind:       PlanChannels,
		HasEmail:   hasEmail,
		HasWebhook: hasWebhook,
		Event: &NotificationEvent{
			NotificationID: "N1",
			Message:        Message{ID: "M1"},
			EmailAddress:   "rcpt@example.com",
			WebhookURL:     "https://hook.example.com/notify",
		},
	}
	raw, _ := json.Marshal(plan)
	return string(raw)
}

// Tests
// ---------------------------------------------------------------------

func TestCoordinator_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"wrong schema version", `{"message":{"id":"M1","recipient_id":"R","sender_service_id":"S","content":{"subject":"s","markdown":"m"}},"schema_version":99}`},
		{"missing message id", `{"message":{"recipient_id":"R","sender_service_id":"S","content":{"subject":"s","markdown":"m"}},"schema_version":1}`},
		{"missing content", `{"message":{"id":"M1","recipient_id":"R","sender_service_id":"S"},"schema_version":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			tracker := &recorder{}

			err := newCoordinator(tracker).Process(context.Background(), host, json.RawMessage(tt.raw))
			require.NoError(t, err)

			// Zero activity invocations, no status write of any kind.
			assert.Empty(t, host.invocations)

			require.Len(t, tracker.events, 1)
			assert.Equal(t, EventDecodeInput, tracker.events[0].Name)
			assert.False(t, tracker.events[0].Success)
		})
	}
}

func TestCoordinator_ContentStoreRejects(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, `{"kind":"FAILURE","reason":"PROFILE_NOT_FOUND"}`)
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	// The final and only status write is REJECTED; no notification or
	// delivery activities are invoked.
	assert.Equal(t, []string{ActivityStoreMessageContent, ActivityUpdateMessageStatus}, host.invoked())

	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[1].Input, &statusInput))
	assert.Equal(t, StatusRejected, statusInput.Status)
	assert.Equal(t, "M1", statusInput.MessageID)

	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventUpdateMessageStatus, tracker.events[0].Name)
	assert.True(t, tracker.events[0].Success)
	assert.Equal(t, "REJECTED-PROFILE_NOT_FOUND", tracker.events[0].Details)
}

func TestCoordinator_ContentStoreExhausted(t *testing.T) {
	host := newFakeHost()
	host.onErr(ActivityStoreMessageContent, &workflow.ExhaustedError{Activity: ActivityStoreMessageContent, Attempts: 10, Last: errors.New("db down")})
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	// The only path to FAILED.
	assert.Equal(t, []string{ActivityStoreMessageContent, ActivityUpdateMessageStatus}, host.invoked())

	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[1].Input, &statusInput))
	assert.Equal(t, StatusFailed, statusInput.Status)
}

func TestCoordinator_ContentStoreDecodeFailure(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, `{"kind":"SOMETHING_ELSE"}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	// Ambiguous: no further activity, no status write at all.
	assert.Equal(t, []string{ActivityStoreMessageContent}, host.invoked())
	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventStoreMessageDecode, tracker.events[0].Name)
	assert.False(t, tracker.events[0].Success)
}

func TestCoordinator_NotificationPlanDecodeFailure(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, `{"kind":"CHANNELS"}`) // missing event
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	assert.Equal(t, []string{ActivityStoreMessageContent, ActivityCreateNotification}, host.invoked())
	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventUpdateNotificationStatus, tracker.events[0].Name)
	assert.False(t, tracker.events[0].Success)
}

func TestCoordinator_NotificationCreationExhausted(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.onErr(ActivityCreateNotification, &workflow.ExhaustedError{Activity: ActivityCreateNotification, Attempts: 10, Last: errors.New("db down")})
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[2].Input, &statusInput))
	assert.Equal(t, StatusFailed, statusInput.Status)
}

func TestCoordinator_NoChannel(t *testing.T) {
	// Concrete scenario: M1, no channel configured. Content store
	// succeeds, the plan is NONE, the workflow ends with no status write
	// and exactly one NO_CHANNEL success record.
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, `{"kind":"NONE"}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	// No channel activities, no final status write.
	assert.Equal(t, []string{ActivityStoreMessageContent, ActivityCreateNotification}, host.invoked())

	require.Len(t, tracker.events, 2)
	assert.Equal(t, EventUpdateNotificationStatus, tracker.events[0].Name)
	assert.True(t, tracker.events[0].Success)
	assert.Equal(t, EventNoChannel, tracker.events[1].Name)
	assert.True(t, tracker.events[1].Success)
	assert.Equal(t, "M1", tracker.events[1].MessageID)
	assert.Equal(t, "S1", tracker.events[1].ServiceID)
}

func TestCoordinator_EmailDelivered(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, planChannels(true, false))
	host.on(ActivitySendEmail, `{"kind":"SUCCESS"}`)
	host.on(ActivityUpdateNotificationStatus, `{}`)
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		ActivityStoreMessageContent,
		ActivityCreateNotification,
		ActivitySendEmail,
		ActivityUpdateNotificationStatus,
		ActivityUpdateMessageStatus,
	}, host.invoked())

	// The channel status update carries SENT for the email channel.
	var channelInput UpdateChannelStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[3].Input, &channelInput))
	assert.Equal(t, ChannelEmail, channelInput.Channel)
	assert.Equal(t, ChannelStatusSent, channelInput.Status)
	assert.Equal(t, "N1", channelInput.NotificationID)

	// And the workflow still reaches PROCESSED.
	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[4].Input, &statusInput))
	assert.Equal(t, StatusProcessed, statusInput.Status)
}

func TestCoordinator_EmailExhaustedStillProcessed(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, planChannels(true, false))
	host.onErr(ActivitySendEmail, &workflow.ExhaustedError{Activity: ActivitySendEmail, Attempts: 10, Last: errors.New("smtp down")})
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	// No channel status update for the exhausted channel, but the final
	// status write is still PROCESSED.
	assert.Equal(t, []string{
		ActivityStoreMessageContent,
		ActivityCreateNotification,
		ActivitySendEmail,
		ActivityUpdateMessageStatus,
	}, host.invoked())

	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[3].Input, &statusInput))
	assert.Equal(t, StatusProcessed, statusInput.Status)
}

func TestCoordinator_EmailStatusUpdateExhausted(t *testing.T) {
	// Concrete scenario: M2, email only, delivery succeeds, the status
	// update runs out of retries. Final status is still PROCESSED and
	// telemetry shows EMAIL_SENT success=true then
	// UPDATE_NOTIFICATION_STATUS success=false details=email.
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, planChannels(true, false))
	host.on(ActivitySendEmail, `{"kind":"SUCCESS"}`)
	host.onErr(ActivityUpdateNotificationStatus, &workflow.ExhaustedError{Activity: ActivityUpdateNotificationStatus, Attempts: 10, Last: errors.New("db down")})
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M2"))
	require.NoError(t, err)

	var statusInput UpdateMessageStatusInput
	require.NoError(t, json.Unmarshal(host.invocations[4].Input, &statusInput))
	assert.Equal(t, StatusProcessed, statusInput.Status)

	assert.Equal(t, []string{
		EventUpdateNotificationStatus, // plan decoded
		EventEmailSent,
		EventUpdateNotificationStatus, // SENT update exhausted
		EventUpdateMessageStatus,
	}, tracker.names())
	assert.True(t, tracker.events[1].Success)
	assert.False(t, tracker.events[2].Success)
	assert.Equal(t, "email", tracker.events[2].Details)
}

func TestCoordinator_ChannelsAreIsolated(t *testing.T) {
	// Email fails both as a business failure and as exhaustion; the
	// webhook must still run and the workflow must still finalize.
	tests := []struct {
		name  string
		setup func(h *fakeHost)
	}{
		{
			name: "email business failure",
			setup: func(h *fakeHost) {
				h.on(ActivitySendEmail, `{"kind":"FAILURE","reason":"mailbox full"}`)
			},
		},
		{
			name: "email exhausted",
			setup: func(h *fakeHost) {
				h.onErr(ActivitySendEmail, &workflow.ExhaustedError{Activity: ActivitySendEmail, Attempts: 10, Last: errors.New("smtp down")})
			},
		},
		{
			name: "email result undecodable",
			setup: func(h *fakeHost) {
				h.on(ActivitySendEmail, `"garbage"`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.on(ActivityStoreMessageContent, storeSuccess())
			host.on(ActivityCreateNotification, planChannels(true, true))
			tt.setup(host)
			host.on(ActivitySendWebhook, `{"kind":"SUCCESS"}`)
			host.on(ActivityUpdateNotificationStatus, `{}`)
			host.on(ActivityUpdateMessageStatus, `{}`)
			tracker := &recorder{}

			err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
			require.NoError(t, err)

			names := host.invoked()
			assert.Contains(t, names, ActivitySendWebhook)
			assert.Equal(t, ActivityUpdateMessageStatus, names[len(names)-1])

			var statusInput UpdateMessageStatusInput
			require.NoError(t, json.Unmarshal(host.invocations[len(host.invocations)-1].Input, &statusInput))
			assert.Equal(t, StatusProcessed, statusInput.Status)
		})
	}
}

func TestCoordinator_EmailBeforeWebhook(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, storeSuccess())
	host.on(ActivityCreateNotification, planChannels(true, true))
	host.on(ActivitySendEmail, `{"kind":"SUCCESS"}`)
	host.on(ActivityUpdateNotificationStatus, `{}`)
	host.on(ActivitySendWebhook, `{"kind":"SUCCESS"}`)
	host.on(ActivityUpdateNotificationStatus, `{}`)
	host.on(ActivityUpdateMessageStatus, `{}`)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		ActivityStoreMessageContent,
		ActivityCreateNotification,
		ActivitySendEmail,
		ActivityUpdateNotificationStatus,
		ActivitySendWebhook,
		ActivityUpdateNotificationStatus,
		ActivityUpdateMessageStatus,
	}, host.invoked())
}

func TestCoordinator_RejectedStatusWriteExhaustedIsSwallowed(t *testing.T) {
	host := newFakeHost()
	host.on(ActivityStoreMessageContent, `{"kind":"FAILURE","reason":"SENDER_BLOCKED"}`)
	host.onErr(ActivityUpdateMessageStatus, &workflow.ExhaustedError{Activity: ActivityUpdateMessageStatus, Attempts: 10, Last: errors.New("db down")})
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.NoError(t, err)

	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventUpdateMessageStatus, tracker.events[0].Name)
	assert.False(t, tracker.events[0].Success)
}

func TestCoordinator_SubstrateErrorsPropagate(t *testing.T) {
	// A cancellation is not a workflow outcome: it must bubble up so the
	// instance stays pending and can be resumed.
	host := newFakeHost()
	host.onErr(ActivityStoreMessageContent, context.Canceled)
	tracker := &recorder{}

	err := newCoordinator(tracker).Process(context.Background(), host, testEvent("M1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tracker.events)
}

func TestCoordinator_ReplayEmitsTelemetryOnce(t *testing.T) {
	// Drive the coordinator through the real substrate twice over the
	// same history: each transition is reported exactly once.
	reg := workflow.NewRegistry()
	script := map[string]string{
		ActivityStoreMessageContent:      storeSuccess(),
		ActivityCreateNotification:       planChannels(true, false),
		ActivitySendEmail:                `{"kind":"SUCCESS"}`,
		ActivityUpdateNotificationStatus: `{}`,
		ActivityUpdateMessageStatus:      `{}`,
	}
	for name, output := range script {
		output := output
		require.NoError(t, reg.Register(name, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(output), nil
		}))
	}

	store := workflow.NewMemoryStore()
	runner := workflow.NewRunner(reg, store, workflow.WithLogger(quietLogger()))
	tracker := &recorder{}
	coordinator := newCoordinator(tracker)

	require.NoError(t, runner.Run(context.Background(), "i1", coordinator.Process, testEvent("M1")))
	firstPass := append([]Event(nil), tracker.events...)
	require.NotEmpty(t, firstPass)

	// Second pass over fully recorded history: nothing new is emitted.
	require.NoError(t, runner.Run(context.Background(), "i1", coordinator.Process, testEvent("M1")))
	assert.Equal(t, firstPass, tracker.events, "replay must not duplicate telemetry")
}
