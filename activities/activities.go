// Package activities implements the six workflow activities: content
// storage, notification creation, the two channel deliveries and the two
// status updates. Activities hold the side-effecting dependencies; the
// coordinator only ever sees their JSON contracts.
package activities

import (
	"context"
	"log/slog"

	"github.com/nomis52/msgflow/clients/mailclient"
	"github.com/nomis52/msgflow/clients/webhookclient"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/store"
	"github.com/nomis52/msgflow/workflow"
)

// MailSender sends one email.
type MailSender interface {
	Send(ctx context.Context, msg mailclient.Message) error
}

// WebhookNotifier posts one payload to a webhook endpoint.
type WebhookNotifier interface {
	Notify(ctx context.Context, payload any) error
}

// WebhookFactory builds a notifier for a recipient's endpoint URL.
type WebhookFactory func(url string) (WebhookNotifier, error)

// Activities bundles the dependencies shared by all activity
// implementations.
type Activities struct {
	store      *store.Store
	mail       MailSender
	newWebhook WebhookFactory
	logger     *slog.Logger
}

// Option configures Activities.
type Option func(*Activities)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Activities) {
		a.logger = logger.With("component", "activities")
	}
}

// WithMail sets the mail sender. Without one, email deliveries fail until
// retries are exhausted.
func WithMail(mail MailSender) Option {
	return func(a *Activities) {
		a.mail = mail
	}
}

// WithWebhookFactory overrides how webhook notifiers are built, mainly
// for signing configuration and tests.
func WithWebhookFactory(factory WebhookFactory) Option {
	return func(a *Activities) {
		a.newWebhook = factory
	}
}

// New creates the activity set backed by the given store.
func New(st *store.Store, opts ...Option) *Activities {
	a := &Activities{
		store:  st,
		logger: slog.Default().With("component", "activities"),
		newWebhook: func(url string) (WebhookNotifier, error) {
			return webhookclient.New(url)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register wires every activity into the registry under its contract name.
func (a *Activities) Register(reg *workflow.Registry) error {
	registrations := []struct {
		name string
		fn   workflow.ActivityFunc
	}{
		{processor.ActivityStoreMessageContent, a.StoreMessageContent},
		{processor.ActivityCreateNotification, a.CreateNotification},
		{processor.ActivitySendEmail, a.SendEmail},
		{processor.ActivitySendWebhook, a.SendWebhook},
		{processor.ActivityUpdateNotificationStatus, a.UpdateNotificationStatus},
		{processor.ActivityUpdateMessageStatus, a.UpdateMessageStatus},
	}
	for _, r := range registrations {
		if err := reg.Register(r.name, r.fn); err != nil {
			return err
		}
	}
	return nil
}
