package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Notification is one delivery attempt set for a message.
type Notification struct {
	ID           string
	MessageID    string
	RecipientID  string
	EmailAddress string
	WebhookURL   string
	CreatedAt    time.Time
}

// CreateNotification inserts a notification row. Inserting the same id
// again is a no-op so a retried creation activity stays idempotent.
func (s *Store) CreateNotification(ctx context.Context, notification Notification) error {
	if notification.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, message_id, recipient_id, email_address, webhook_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		notification.ID, notification.MessageID, notification.RecipientID,
		notification.EmailAddress, notification.WebhookURL, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("creating notification %s: %w", notification.ID, err)
	}
	return nil
}

// NotificationForMessage returns the notification created for a message,
// or ErrNotFound. Used to keep notification creation idempotent across
// workflow resumption.
func (s *Store) NotificationForMessage(ctx context.Context, messageID string) (Notification, error) {
	var notification Notification
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, recipient_id, email_address, webhook_url, created_at
		FROM notifications WHERE message_id = ?`, messageID).Scan(
		&notification.ID, &notification.MessageID, &notification.RecipientID,
		&notification.EmailAddress, &notification.WebhookURL, &notification.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notification, ErrNotFound
	}
	if err != nil {
		return notification, fmt.Errorf("loading notification for message %s: %w", messageID, err)
	}
	return notification, nil
}

// SetNotificationChannelStatus records the per-channel delivery status.
func (s *Store) SetNotificationChannelStatus(ctx context.Context, notificationID, channel, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_status (notification_id, channel, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		notificationID, channel, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting status for notification %s channel %s: %w", notificationID, channel, err)
	}
	return nil
}

// NotificationChannelStatus returns the recorded status for one channel,
// or ErrNotFound when no update has been written yet.
func (s *Store) NotificationChannelStatus(ctx context.Context, notificationID, channel string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM notification_status
		WHERE notification_id = ? AND channel = ?`, notificationID, channel).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading status for notification %s channel %s: %w", notificationID, channel, err)
	}
	return status, nil
}
