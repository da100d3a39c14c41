// Package store persists profiles, messages, notifications and services
// in a single sqlite database. It is the system of record behind the
// activities; workflow history lives separately in the workflow package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	recipient_id         TEXT PRIMARY KEY,
	email                TEXT NOT NULL DEFAULT '',
	webhook_url          TEXT NOT NULL DEFAULT '',
	preferred_languages  TEXT NOT NULL DEFAULT '[]',
	master_inbox_enabled INTEGER NOT NULL DEFAULT 1,
	blocked              TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	recipient_id      TEXT NOT NULL,
	sender_service_id TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	status            TEXT NOT NULL DEFAULT '',
	status_updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_contents (
	message_id TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	markdown   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL,
	recipient_id  TEXT NOT NULL,
	email_address TEXT NOT NULL DEFAULT '',
	webhook_url   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_status (
	notification_id TEXT NOT NULL,
	channel         TEXT NOT NULL,
	status          TEXT NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (notification_id, channel)
);

CREATE TABLE IF NOT EXISTS services (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	organization_name  TEXT NOT NULL DEFAULT '',
	department_name    TEXT NOT NULL DEFAULT '',
	primary_key_hash   TEXT NOT NULL,
	secondary_key_hash TEXT NOT NULL,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent workflow instances.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Counts summarizes the database for the status endpoint.
type Counts struct {
	Messages         int            `json:"messages"`
	MessagesByStatus map[string]int `json:"messages_by_status"`
	Notifications    int            `json:"notifications"`
	Profiles         int            `json:"profiles"`
	Services         int            `json:"services"`
}

// Counts returns row counts for the status endpoint.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{MessagesByStatus: make(map[string]int)}

	singles := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM messages", &counts.Messages},
		{"SELECT COUNT(*) FROM notifications", &counts.Notifications},
		{"SELECT COUNT(*) FROM profiles", &counts.Profiles},
		{"SELECT COUNT(*) FROM services", &counts.Services},
	}
	for _, q := range singles {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return counts, fmt.Errorf("counting rows: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM messages WHERE status != '' GROUP BY status")
	if err != nil {
		return counts, fmt.Errorf("counting message statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scanning status count: %w", err)
		}
		counts.MessagesByStatus[status] = n
	}
	return counts, rows.Err()
}
