package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nomis52/msgflow/workflow"
)

// Coordinator drives one message event through content storage,
// notification creation, per-channel delivery and the terminal status
// write. It is the workflow body executed by the durable substrate:
// everything here must stay deterministic, all side effects other than
// activity invocations go through the replay-gated tracker.
//
// Failure policy, by step:
//
//   - malformed input: permanent, logged, no status write, no retry
//   - content-store / notification-creation exhaustion: fatal, one
//     best-effort FAILED status write, end
//   - content-store / notification-creation decode failure: ambiguous
//     (the side effect may have happened), logged, end with no status
//     write at all
//   - content-store business failure: REJECTED status write, end
//   - channel delivery and channel status updates: best effort, failures
//     are logged and swallowed, each channel isolated from the other
//   - terminal PROCESSED write: best effort
type Coordinator struct {
	retry   workflow.RetryPolicy
	tracker Tracker
	logger  *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a custom logger for the coordinator.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger.With("component", "coordinator")
	}
}

// NewCoordinator creates a Coordinator. The retry policy is applied to
// every activity invocation; there is no per-step tuning.
func NewCoordinator(retry workflow.RetryPolicy, tracker Tracker, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		retry:   retry,
		tracker: tracker,
		logger:  slog.Default().With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process is the workflow function for one message event.
//
// It returns nil for every handled outcome, including fatal ones: reaching
// a terminal action IS the contract. A non-nil return only signals a
// substrate-level interruption (cancellation, history divergence, storage
// failure), which leaves the instance pending for resumption.
func (c *Coordinator) Process(ctx context.Context, h workflow.Host, raw json.RawMessage) error {
	track := ReplayGate(c.tracker, h.IsReplaying)

	event, err := DecodeMessageEvent(raw)
	if err != nil {
		// We will never be able to recover from this, so don't trigger a retry.
		c.logger.Error("failed to decode message event", "error", err)
		track.Track(Event{Name: EventDecodeInput, Success: false, Details: err.Error()})
		return nil
	}

	messageID := event.Message.ID
	serviceID := event.Message.SenderServiceID
	logger := c.logger.With("message_id", messageID, "service_id", serviceID)
	logger.Debug("starting message processing")

	// Store the message content. Exhaustion here is the only way (besides
	// notification creation below) to reach the FAILED terminal status.
	storeRaw, err := h.Invoke(ctx, ActivityStoreMessageContent, raw, c.retry)
	if err != nil {
		return c.fatal(ctx, h, track, logger, event, err)
	}

	outcome, err := DecodeContentStoreOutcome(storeRaw)
	if err != nil {
		// The content may or may not have been stored; there is no safe
		// status to write.
		logger.Error("failed to decode content store outcome", "error", err)
		track.Track(Event{Name: EventStoreMessageDecode, Success: false, MessageID: messageID, ServiceID: serviceID, Details: err.Error()})
		return nil
	}

	if !outcome.Success() {
		logger.Info("message rejected by content store", "reason", outcome.Reason)
		if err := c.writeMessageStatus(ctx, h, track, logger, event, StatusRejected, string(StatusRejected)+"-"+outcome.Reason); err != nil {
			return err
		}
		return nil
	}

	// Create the notification record that will track per-channel status.
	cnInput, err := encode(CreateNotificationInput{Event: event, StoreResult: outcome})
	if err != nil {
		logger.Error("failed to encode notification input", "error", err)
		return nil
	}
	planRaw, err := h.Invoke(ctx, ActivityCreateNotification, cnInput, c.retry)
	if err != nil {
		return c.fatal(ctx, h, track, logger, event, err)
	}

	plan, err := DecodeNotificationPlan(planRaw)
	if err != nil {
		logger.Error("failed to decode notification plan", "error", err)
		track.Track(Event{Name: EventUpdateNotificationStatus, Success: false, MessageID: messageID, ServiceID: serviceID, Details: err.Error()})
		return nil
	}
	track.Track(Event{Name: EventUpdateNotificationStatus, Success: true, MessageID: messageID, ServiceID: serviceID})

	if plan.Kind == PlanNone {
		// No channel configured: nothing to deliver. The instance ends
		// here without any terminal status write.
		logger.Info("no notifications will be delivered")
		track.Track(Event{Name: EventNoChannel, Success: true, MessageID: messageID, ServiceID: serviceID, Details: "No notifications will be delivered"})
		return nil
	}

	// Channels are fully isolated: a failure or exhaustion on one never
	// prevents the other, or the finalize step, from running.
	if plan.HasEmail {
		if err := c.deliverChannel(ctx, h, track, logger, ChannelEmail, plan, event); err != nil {
			return err
		}
	}
	if plan.HasWebhook {
		if err := c.deliverChannel(ctx, h, track, logger, ChannelWebhook, plan, event); err != nil {
			return err
		}
	}

	// Finalize regardless of individual channel outcomes.
	if err := c.writeMessageStatus(ctx, h, track, logger, event, StatusProcessed, string(StatusProcessed)); err != nil {
		return err
	}
	return nil
}

// fatal handles retry exhaustion of one of the two gating steps: log,
// attempt one best-effort FAILED status write, end. Substrate-level
// interruptions are not fatal outcomes and propagate instead.
func (c *Coordinator) fatal(ctx context.Context, h workflow.Host, track Tracker, logger *slog.Logger, event MessageEvent, err error) error {
	if !workflow.IsExhausted(err) {
		return err
	}
	logger.Error("gating activity exceeded the max retries", "error", err)
	if err := c.writeMessageStatus(ctx, h, track, logger, event, StatusFailed, string(StatusFailed)); err != nil {
		return err
	}
	return nil
}

// deliverChannel sends one notification channel and, on success, advances
// its status to SENT. Every failure mode in here is best-effort: logged,
// reported, swallowed. Only substrate interruptions propagate.
func (c *Coordinator) deliverChannel(ctx context.Context, h workflow.Host, track Tracker, logger *slog.Logger, channel Channel, plan NotificationPlan, event MessageEvent) error {
	var activityName, eventName string
	switch channel {
	case ChannelEmail:
		activityName, eventName = ActivitySendEmail, EventEmailSent
	case ChannelWebhook:
		activityName, eventName = ActivitySendWebhook, EventWebhook
	}
	channelDetail := strings.ToLower(string(channel))
	logger = logger.With("channel", channelDetail)

	input, err := encode(DeliveryInput{Event: *plan.Event})
	if err != nil {
		logger.Error("failed to encode delivery input", "error", err)
		return nil
	}

	outRaw, err := h.Invoke(ctx, activityName, input, c.retry)
	if err != nil {
		if !workflow.IsExhausted(err) {
			return err
		}
		logger.Error("delivery activity failed too many times", "error", err)
		return nil
	}

	outcome, err := DecodeChannelDeliveryOutcome(outRaw)
	if err != nil {
		// The delivery may have succeeded, but without a decodable result
		// we cannot even update the notification status.
		logger.Error("failed to decode delivery outcome", "error", err)
		return nil
	}

	if !outcome.Success() {
		logger.Error("delivery failed", "reason", outcome.Reason)
		track.Track(Event{Name: eventName, Success: false, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID, Details: outcome.Reason})
		return nil
	}
	track.Track(Event{Name: eventName, Success: true, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID})

	// Advance the channel status to SENT.
	statusInput, err := encode(UpdateChannelStatusInput{
		Channel:        channel,
		MessageID:      event.Message.ID,
		NotificationID: plan.Event.NotificationID,
		Status:         ChannelStatusSent,
	})
	if err != nil {
		logger.Error("failed to encode channel status input", "error", err)
		return nil
	}
	if _, err := h.Invoke(ctx, ActivityUpdateNotificationStatus, statusInput, c.retry); err != nil {
		if !workflow.IsExhausted(err) {
			return err
		}
		logger.Error("notification status update failed too many times", "error", err)
		track.Track(Event{Name: EventUpdateNotificationStatus, Success: false, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID, Details: channelDetail})
		return nil
	}
	track.Track(Event{Name: EventUpdateNotificationStatus, Success: true, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID, Details: channelDetail})
	return nil
}

// writeMessageStatus records the terminal message status, best effort:
// exhaustion is logged and reported but never escalated.
func (c *Coordinator) writeMessageStatus(ctx context.Context, h workflow.Host, track Tracker, logger *slog.Logger, event MessageEvent, status MessageStatus, details string) error {
	input, err := encode(UpdateMessageStatusInput{
		MessageID:       event.Message.ID,
		RecipientID:     event.Message.RecipientID,
		SenderServiceID: event.Message.SenderServiceID,
		CreatedAt:       event.Message.CreatedAt,
		Status:          status,
	})
	if err != nil {
		logger.Error("failed to encode message status input", "error", err)
		return nil
	}
	if _, err := h.Invoke(ctx, ActivityUpdateMessageStatus, input, c.retry); err != nil {
		if !workflow.IsExhausted(err) {
			return err
		}
		logger.Error("message status update failed too many times", "status", status, "error", err)
		track.Track(Event{Name: EventUpdateMessageStatus, Success: false, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID, Details: details})
		return nil
	}
	track.Track(Event{Name: EventUpdateMessageStatus, Success: true, MessageID: event.Message.ID, ServiceID: event.Message.SenderServiceID, Details: details})
	return nil
}

func encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
