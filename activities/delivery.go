package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nomis52/msgflow/clients/mailclient"
	"github.com/nomis52/msgflow/processor"
)

// SendEmail delivers the notification over SMTP. A missing address is a
// permanent business failure; transport errors are returned so the host
// retries them.
func (a *Activities) SendEmail(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in processor.DeliveryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding delivery input: %w", err)
	}
	event := in.Event

	if event.EmailAddress == "" {
		return deliveryFailure("no email address for notification")
	}
	if a.mail == nil {
		return nil, fmt.Errorf("mail client is not configured")
	}

	msg := mailclient.Message{
		To:      event.EmailAddress,
		Subject: event.Message.Content.Subject,
		Body:    renderEmailBody(event),
	}
	if err := a.mail.Send(ctx, msg); err != nil {
		return nil, err
	}

	a.logger.Debug("email delivered", "notification_id", event.NotificationID)
	return json.Marshal(processor.ChannelDeliveryOutcome{Kind: processor.KindSuccess})
}

// SendWebhook posts the notification event to the recipient's endpoint.
func (a *Activities) SendWebhook(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in processor.DeliveryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding delivery input: %w", err)
	}
	event := in.Event

	if event.WebhookURL == "" {
		return deliveryFailure("no webhook URL for notification")
	}
	notifier, err := a.newWebhook(event.WebhookURL)
	if err != nil {
		// A malformed endpoint URL never becomes valid on retry.
		return deliveryFailure(fmt.Sprintf("invalid webhook URL: %v", err))
	}

	if err := notifier.Notify(ctx, event); err != nil {
		return nil, err
	}

	a.logger.Debug("webhook delivered", "notification_id", event.NotificationID)
	return json.Marshal(processor.ChannelDeliveryOutcome{Kind: processor.KindSuccess})
}

func deliveryFailure(reason string) (json.RawMessage, error) {
	return json.Marshal(processor.ChannelDeliveryOutcome{
		Kind:   processor.KindFailure,
		Reason: reason,
	})
}

// renderEmailBody builds the plain-text body from the message content and
// sender metadata.
func renderEmailBody(event processor.NotificationEvent) string {
	meta := event.SenderMetadata
	header := meta.ServiceName
	if meta.OrganizationName != "" {
		header = meta.OrganizationName + " - " + header
	}
	return header + "\n\n" + event.Message.Content.Markdown + "\n"
}
