package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message is the persisted form of a processed message.
type Message struct {
	ID              string
	RecipientID     string
	SenderServiceID string
	CreatedAt       time.Time
	Status          string
	StatusUpdatedAt time.Time
}

// UpsertMessage inserts a message row if absent. Re-running the storing
// activity after a crash must not fail or clobber an existing status.
func (s *Store) UpsertMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, recipient_id, sender_service_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.RecipientID, msg.SenderServiceID, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting message %s: %w", msg.ID, err)
	}
	return nil
}

// SaveMessageContent stores the subject and body for a message. Replaces
// on conflict so a retried store is idempotent.
func (s *Store) SaveMessageContent(ctx context.Context, messageID, subject, markdown string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_contents (message_id, subject, markdown)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			subject = excluded.subject,
			markdown = excluded.markdown`,
		messageID, subject, markdown)
	if err != nil {
		return fmt.Errorf("saving content for message %s: %w", messageID, err)
	}
	return nil
}

// SetMessageStatus records the terminal status of a message.
func (s *Store) SetMessageStatus(ctx context.Context, messageID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, status_updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("setting status for message %s: %w", messageID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting status for message %s: %w", messageID, err)
	}
	if affected == 0 {
		return fmt.Errorf("setting status for message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// GetMessage returns one message row, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var msg Message
	var statusUpdatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, sender_service_id, created_at, status, status_updated_at
		FROM messages WHERE id = ?`, messageID).Scan(
		&msg.ID, &msg.RecipientID, &msg.SenderServiceID, &msg.CreatedAt, &msg.Status, &statusUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return msg, ErrNotFound
	}
	if err != nil {
		return msg, fmt.Errorf("loading message %s: %w", messageID, err)
	}
	if statusUpdatedAt.Valid {
		msg.StatusUpdatedAt = statusUpdatedAt.Time
	}
	return msg, nil
}
