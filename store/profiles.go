package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Blocked-item values stored in a profile's per-sender block list.
const (
	BlockInbox   = "INBOX"
	BlockEmail   = "EMAIL"
	BlockWebhook = "WEBHOOK"
)

// Profile is a recipient's delivery preferences. Blocked maps a sender
// service id to the items the recipient has blocked for that sender.
type Profile struct {
	RecipientID        string
	Email              string
	WebhookURL         string
	PreferredLanguages []string
	MasterInboxEnabled bool
	Blocked            map[string][]string
}

// BlockedFor returns the block list for one sender. A nil result means
// nothing is blocked.
func (p Profile) BlockedFor(serviceID string) []string {
	return p.Blocked[serviceID]
}

// UpsertProfile inserts or replaces a profile.
func (s *Store) UpsertProfile(ctx context.Context, profile Profile) error {
	if profile.RecipientID == "" {
		return fmt.Errorf("profile recipient id is required")
	}
	languages, err := json.Marshal(profile.PreferredLanguages)
	if err != nil {
		return fmt.Errorf("encoding preferred languages: %w", err)
	}
	blocked, err := json.Marshal(profile.Blocked)
	if err != nil {
		return fmt.Errorf("encoding blocked map: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (recipient_id, email, webhook_url, preferred_languages, master_inbox_enabled, blocked)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipient_id) DO UPDATE SET
			email = excluded.email,
			webhook_url = excluded.webhook_url,
			preferred_languages = excluded.preferred_languages,
			master_inbox_enabled = excluded.master_inbox_enabled,
			blocked = excluded.blocked`,
		profile.RecipientID, profile.Email, profile.WebhookURL,
		string(languages), profile.MasterInboxEnabled, string(blocked))
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", profile.RecipientID, err)
	}
	return nil
}

// GetProfile returns the profile for a recipient, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, recipientID string) (Profile, error) {
	var profile Profile
	var languages, blocked string
	err := s.db.QueryRowContext(ctx, `
		SELECT recipient_id, email, webhook_url, preferred_languages, master_inbox_enabled, blocked
		FROM profiles WHERE recipient_id = ?`, recipientID).Scan(
		&profile.RecipientID, &profile.Email, &profile.WebhookURL,
		&languages, &profile.MasterInboxEnabled, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return profile, ErrNotFound
	}
	if err != nil {
		return profile, fmt.Errorf("loading profile %s: %w", recipientID, err)
	}

	if err := json.Unmarshal([]byte(languages), &profile.PreferredLanguages); err != nil {
		return profile, fmt.Errorf("decoding preferred languages: %w", err)
	}
	if err := json.Unmarshal([]byte(blocked), &profile.Blocked); err != nil {
		return profile, fmt.Errorf("decoding blocked map: %w", err)
	}
	return profile, nil
}
