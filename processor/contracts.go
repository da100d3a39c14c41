package processor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Activity names invoked by the coordinator. The implementations live in
// the activities package; the coordinator only knows the names and the
// input/output contracts in this file.
const (
	ActivityStoreMessageContent      = "StoreMessageContent"
	ActivityCreateNotification       = "CreateNotification"
	ActivitySendEmail                = "SendEmail"
	ActivitySendWebhook              = "SendWebhook"
	ActivityUpdateNotificationStatus = "UpdateNotificationStatus"
	ActivityUpdateMessageStatus      = "UpdateMessageStatus"
)

// SchemaVersion is the message event schema this coordinator understands.
const SchemaVersion = 1

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelWebhook Channel = "WEBHOOK"
)

// MessageStatus is the terminal status recorded for a message.
// Exactly one value is recorded per workflow instance.
type MessageStatus string

const (
	StatusProcessed MessageStatus = "PROCESSED"
	StatusRejected  MessageStatus = "REJECTED"
	StatusFailed    MessageStatus = "FAILED"
)

// ChannelStatus is the per-channel notification status. It only ever
// advances forward; the absence of an update means "unknown".
type ChannelStatus string

const (
	ChannelStatusSent ChannelStatus = "SENT"
)

// MessageContent is the payload of a message.
type MessageContent struct {
	Subject  string `json:"subject"`
	Markdown string `json:"markdown"`
}

// Message is a newly created message with content.
type Message struct {
	ID              string         `json:"id"`
	RecipientID     string         `json:"recipient_id"`
	SenderServiceID string         `json:"sender_service_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Content         MessageContent `json:"content"`
}

// SenderMetadata describes the service that created the message.
type SenderMetadata struct {
	ServiceName           string `json:"service_name"`
	OrganizationName      string `json:"organization_name"`
	DepartmentName        string `json:"department_name"`
	RequireSecureChannels bool   `json:"require_secure_channels"`
}

// MessageEvent is the input of one workflow instance. Immutable once
// decoded.
type MessageEvent struct {
	Message        Message        `json:"message"`
	SenderMetadata SenderMetadata `json:"sender_metadata"`
	// DefaultEmail is an optional fallback address supplied by the sender,
	// used only when the recipient profile has no email of its own.
	DefaultEmail  string `json:"default_email,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

var messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DecodeMessageEvent decodes and validates an inbound message event.
// A decode failure is permanent: the event can never become valid.
func DecodeMessageEvent(raw json.RawMessage) (MessageEvent, error) {
	var event MessageEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("malformed message event: %w", err)
	}
	if event.SchemaVersion != SchemaVersion {
		return event, fmt.Errorf("unsupported schema version %d", event.SchemaVersion)
	}
	if event.Message.ID == "" {
		return event, fmt.Errorf("message id is required")
	}
	// The message ID doubles as the workflow instance ID and hence as a
	// history file name, so it must stay within a file-safe charset.
	if !messageIDPattern.MatchString(event.Message.ID) {
		return event, fmt.Errorf("message id %q contains invalid characters", event.Message.ID)
	}
	if event.Message.RecipientID == "" {
		return event, fmt.Errorf("message recipient id is required")
	}
	if event.Message.SenderServiceID == "" {
		return event, fmt.Errorf("message sender service id is required")
	}
	if event.Message.Content.Subject == "" {
		return event, fmt.Errorf("message content subject is required")
	}
	if event.Message.Content.Markdown == "" {
		return event, fmt.Errorf("message content markdown is required")
	}
	return event, nil
}

// ProfileSnapshot is the recipient profile as seen by the content-store
// activity, carried forward so later steps observe the same addresses.
type ProfileSnapshot struct {
	Email              string   `json:"email,omitempty"`
	WebhookURL         string   `json:"webhook_url,omitempty"`
	PreferredLanguages []string `json:"preferred_languages,omitempty"`
}

// Content-store business failure reasons.
const (
	ReasonProfileNotFound = "PROFILE_NOT_FOUND"
	ReasonSenderBlocked   = "SENDER_BLOCKED"
	ReasonInboxDisabled   = "MASTER_INBOX_DISABLED"
)

// ContentStoreOutcome is the result of the content-store activity.
// Kind SUCCESS carries the blocked channel set and a profile snapshot;
// kind FAILURE carries the rejection reason.
type ContentStoreOutcome struct {
	Kind            string           `json:"kind"`
	BlockedChannels []Channel        `json:"blocked_channels,omitempty"`
	Profile         *ProfileSnapshot `json:"profile,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// Outcome kinds shared by ContentStoreOutcome and ChannelDeliveryOutcome.
const (
	KindSuccess = "SUCCESS"
	KindFailure = "FAILURE"
)

// Success reports whether the outcome is a business success.
func (o ContentStoreOutcome) Success() bool {
	return o.Kind == KindSuccess
}

// Blocked reports whether the given channel is in the blocked set.
func (o ContentStoreOutcome) Blocked(ch Channel) bool {
	for _, blocked := range o.BlockedChannels {
		if blocked == ch {
			return true
		}
	}
	return false
}

// DecodeContentStoreOutcome strictly decodes a content-store result.
func DecodeContentStoreOutcome(raw json.RawMessage) (ContentStoreOutcome, error) {
	var outcome ContentStoreOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return outcome, fmt.Errorf("malformed content store outcome: %w", err)
	}
	switch outcome.Kind {
	case KindSuccess:
		if outcome.Profile == nil {
			return outcome, fmt.Errorf("content store success without profile snapshot")
		}
	case KindFailure:
		if outcome.Reason == "" {
			return outcome, fmt.Errorf("content store failure without reason")
		}
	default:
		return outcome, fmt.Errorf("unknown content store outcome kind %q", outcome.Kind)
	}
	return outcome, nil
}

// NotificationEvent carries everything a delivery activity needs to send
// one notification.
type NotificationEvent struct {
	NotificationID string         `json:"notification_id"`
	Message        Message        `json:"message"`
	SenderMetadata SenderMetadata `json:"sender_metadata"`
	EmailAddress   string         `json:"email_address,omitempty"`
	WebhookURL     string         `json:"webhook_url,omitempty"`
}

// Notification plan kinds.
const (
	PlanNone     = "NONE"
	PlanChannels = "CHANNELS"
)

// NotificationPlan is the result of the notification-creation activity.
// Kind NONE means no channel is configured for the recipient and nothing
// will be delivered. Kind CHANNELS carries the enabled channel flags and
// the delivery event.
type NotificationPlan struct {
	Kind       string             `json:"kind"`
	HasEmail   bool               `json:"has_email,omitempty"`
	HasWebhook bool               `json:"has_webhook,omitempty"`
	Event      *NotificationEvent `json:"event,omitempty"`
}

// DecodeNotificationPlan strictly decodes a notification-creation result.
func DecodeNotificationPlan(raw json.RawMessage) (NotificationPlan, error) {
	var plan NotificationPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return plan, fmt.Errorf("malformed notification plan: %w", err)
	}
	switch plan.Kind {
	case PlanNone:
	case PlanChannels:
		if plan.Event == nil {
			return plan, fmt.Errorf("notification plan without delivery event")
		}
		if !plan.HasEmail && !plan.HasWebhook {
			return plan, fmt.Errorf("notification plan with no enabled channel")
		}
		if plan.Event.NotificationID == "" {
			return plan, fmt.Errorf("notification plan without notification id")
		}
	default:
		return plan, fmt.Errorf("unknown notification plan kind %q", plan.Kind)
	}
	return plan, nil
}

// ChannelDeliveryOutcome is the result of a single channel delivery.
type ChannelDeliveryOutcome struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// Success reports whether the delivery succeeded.
func (o ChannelDeliveryOutcome) Success() bool {
	return o.Kind == KindSuccess
}

// DecodeChannelDeliveryOutcome strictly decodes a delivery result.
func DecodeChannelDeliveryOutcome(raw json.RawMessage) (ChannelDeliveryOutcome, error) {
	var outcome ChannelDeliveryOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return outcome, fmt.Errorf("malformed delivery outcome: %w", err)
	}
	switch outcome.Kind {
	case KindSuccess:
	case KindFailure:
		if outcome.Reason == "" {
			return outcome, fmt.Errorf("delivery failure without reason")
		}
	default:
		return outcome, fmt.Errorf("unknown delivery outcome kind %q", outcome.Kind)
	}
	return outcome, nil
}

// CreateNotificationInput is the input of the notification-creation
// activity: the original event plus the content-store outcome.
type CreateNotificationInput struct {
	Event       MessageEvent        `json:"event"`
	StoreResult ContentStoreOutcome `json:"store_result"`
}

// DeliveryInput is the input of both channel delivery activities.
type DeliveryInput struct {
	Event NotificationEvent `json:"event"`
}

// UpdateChannelStatusInput is the input of the per-channel notification
// status update activity.
type UpdateChannelStatusInput struct {
	Channel        Channel       `json:"channel"`
	MessageID      string        `json:"message_id"`
	NotificationID string        `json:"notification_id"`
	Status         ChannelStatus `json:"status"`
}

// UpdateMessageStatusInput is the input of the message status update
// activity. It carries enough of the message identity for the activity
// to create the row when the storing activity never ran, which happens
// on the rejection path.
type UpdateMessageStatusInput struct {
	MessageID       string        `json:"message_id"`
	RecipientID     string        `json:"recipient_id,omitempty"`
	SenderServiceID string        `json:"sender_service_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          MessageStatus `json:"status"`
}
