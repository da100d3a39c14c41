// Package handlers provides HTTP handlers for the msgflow server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/msgflow/config"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/server/dispatcher"
	"github.com/nomis52/msgflow/store"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// MessageStarter starts workflow instances for accepted messages.
type MessageStarter interface {
	Start(event processor.MessageEvent, raw []byte) (string, error)
}

// InstanceStatusProvider provides access to tracked instance statuses.
type InstanceStatusProvider interface {
	Statuses() []dispatcher.InstanceStatus
}

// HistoryProvider provides access to finished instances and their logs.
type HistoryProvider interface {
	History() []dispatcher.InstanceRecord
}

// NextSweepProvider reports the next scheduled resume sweep, or nil when
// no sweeper is configured.
type NextSweepProvider interface {
	NextSweep() *time.Time
}

// CountsProvider summarizes the document store.
type CountsProvider interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// ServiceStore persists sender services.
type ServiceStore interface {
	CreateService(ctx context.Context, service store.Service) error
	GetService(ctx context.Context, id string) (store.Service, error)
	UpdateServiceKeys(ctx context.Context, id, primaryHash, secondaryHash string) error
}

// ProfileStore reads recipient profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, recipientID string) (store.Profile, error)
}
