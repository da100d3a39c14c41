package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/store"
)

// StoreMessageContent checks the recipient profile, persists the message
// content and reports which channels the recipient has blocked for this
// sender. Recipient-side conditions are business failures carried in the
// outcome; storage errors are returned so the host retries them.
func (a *Activities) StoreMessageContent(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	event, err := processor.DecodeMessageEvent(input)
	if err != nil {
		return nil, fmt.Errorf("decoding message event: %w", err)
	}
	msg := event.Message

	profile, err := a.store.GetProfile(ctx, msg.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		return failureOutcome(processor.ReasonProfileNotFound)
	}
	if err != nil {
		return nil, err
	}

	blocked := profile.BlockedFor(msg.SenderServiceID)
	if slices.Contains(blocked, store.BlockInbox) {
		return failureOutcome(processor.ReasonSenderBlocked)
	}
	if !profile.MasterInboxEnabled {
		return failureOutcome(processor.ReasonInboxDisabled)
	}

	if err := a.store.SaveMessageContent(ctx, msg.ID, msg.Content.Subject, msg.Content.Markdown); err != nil {
		return nil, err
	}
	if err := a.store.UpsertMessage(ctx, store.Message{
		ID:              msg.ID,
		RecipientID:     msg.RecipientID,
		SenderServiceID: msg.SenderServiceID,
		CreatedAt:       msg.CreatedAt,
	}); err != nil {
		return nil, err
	}

	var blockedChannels []processor.Channel
	if slices.Contains(blocked, store.BlockEmail) {
		blockedChannels = append(blockedChannels, processor.ChannelEmail)
	}
	if slices.Contains(blocked, store.BlockWebhook) {
		blockedChannels = append(blockedChannels, processor.ChannelWebhook)
	}

	a.logger.Debug("message content stored", "message_id", msg.ID, "blocked_channels", len(blockedChannels))
	return json.Marshal(processor.ContentStoreOutcome{
		Kind:            processor.KindSuccess,
		BlockedChannels: blockedChannels,
		Profile: &processor.ProfileSnapshot{
			Email:              profile.Email,
			WebhookURL:         profile.WebhookURL,
			PreferredLanguages: profile.PreferredLanguages,
		},
	})
}

func failureOutcome(reason string) (json.RawMessage, error) {
	return json.Marshal(processor.ContentStoreOutcome{
		Kind:   processor.KindFailure,
		Reason: reason,
	})
}
