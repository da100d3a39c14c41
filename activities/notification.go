package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/store"
)

// CreateNotification decides which channels to deliver on and creates the
// notification record. With no usable channel it returns the NONE plan
// and writes nothing.
func (a *Activities) CreateNotification(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in processor.CreateNotificationInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding notification input: %w", err)
	}
	if in.StoreResult.Profile == nil {
		return nil, fmt.Errorf("notification input without profile snapshot")
	}
	msg := in.Event.Message
	profile := in.StoreResult.Profile

	// The sender's default address only applies when the profile has no
	// email of its own, and never when the sender requires secure
	// channels: the default address is unverified.
	emailAddress := profile.Email
	if emailAddress == "" && !in.Event.SenderMetadata.RequireSecureChannels {
		emailAddress = in.Event.DefaultEmail
	}
	hasEmail := emailAddress != "" && !in.StoreResult.Blocked(processor.ChannelEmail)
	hasWebhook := profile.WebhookURL != "" && !in.StoreResult.Blocked(processor.ChannelWebhook)

	if !hasEmail && !hasWebhook {
		a.logger.Debug("no deliverable channel", "message_id", msg.ID)
		return json.Marshal(processor.NotificationPlan{Kind: processor.PlanNone})
	}

	// Resumed instances must reuse the notification created before the
	// crash instead of minting a second one.
	notificationID, err := a.notificationID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	notification := store.Notification{
		ID:          notificationID,
		MessageID:   msg.ID,
		RecipientID: msg.RecipientID,
		CreatedAt:   time.Now(),
	}
	notificationEvent := processor.NotificationEvent{
		NotificationID: notificationID,
		Message:        msg,
		SenderMetadata: in.Event.SenderMetadata,
	}
	if hasEmail {
		notification.EmailAddress = emailAddress
		notificationEvent.EmailAddress = emailAddress
	}
	if hasWebhook {
		notification.WebhookURL = profile.WebhookURL
		notificationEvent.WebhookURL = profile.WebhookURL
	}

	if err := a.store.CreateNotification(ctx, notification); err != nil {
		return nil, err
	}

	a.logger.Debug("notification created",
		"message_id", msg.ID,
		"notification_id", notificationID,
		"email", hasEmail,
		"webhook", hasWebhook)
	return json.Marshal(processor.NotificationPlan{
		Kind:       processor.PlanChannels,
		HasEmail:   hasEmail,
		HasWebhook: hasWebhook,
		Event:      &notificationEvent,
	})
}

// notificationID returns the existing notification id for the message,
// or a fresh one.
func (a *Activities) notificationID(ctx context.Context, messageID string) (string, error) {
	existing, err := a.store.NotificationForMessage(ctx, messageID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return uuid.NewString(), nil
}
