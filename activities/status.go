package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/store"
)

// ack is the empty output of the status update activities.
var ack = json.RawMessage(`{}`)

// UpdateNotificationStatus records a channel's delivery status.
func (a *Activities) UpdateNotificationStatus(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in processor.UpdateChannelStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding channel status input: %w", err)
	}
	if in.NotificationID == "" {
		return nil, fmt.Errorf("channel status input without notification id")
	}

	err := a.store.SetNotificationChannelStatus(ctx, in.NotificationID, string(in.Channel), string(in.Status))
	if err != nil {
		return nil, err
	}
	a.logger.Debug("notification status updated",
		"notification_id", in.NotificationID,
		"channel", in.Channel,
		"status", in.Status)
	return ack, nil
}

// UpdateMessageStatus records the terminal message status.
func (a *Activities) UpdateMessageStatus(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in processor.UpdateMessageStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding message status input: %w", err)
	}
	if in.MessageID == "" {
		return nil, fmt.Errorf("message status input without message id")
	}

	// The rejection path writes a status for a message the storing
	// activity never persisted. Insert the row first; the upsert leaves
	// existing rows untouched.
	err := a.store.UpsertMessage(ctx, store.Message{
		ID:              in.MessageID,
		RecipientID:     in.RecipientID,
		SenderServiceID: in.SenderServiceID,
		CreatedAt:       in.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.SetMessageStatus(ctx, in.MessageID, string(in.Status)); err != nil {
		return nil, err
	}
	a.logger.Debug("message status updated", "message_id", in.MessageID, "status", in.Status)
	return ack, nil
}
