// Package server provides the HTTP server for the msgflow notification
// coordinator.
//
// The server accepts message events, drives each one through the durable
// processing workflow, and exposes operational state.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /api/status - Consolidated status (build, store counts, instances, next sweep)
//   - POST /api/messages - Accept a message event, start a workflow instance
//   - GET /history - Finished instances with captured logs
//   - GET /config - Returns current configuration as YAML, redacted
//   - GET /metrics - Prometheus exposition
//   - POST /api/services - Register a sender service
//   - GET /api/services/{id} - Service details, without key material
//   - PUT /api/services/{id}/keys - Rotate subscription keys
//   - GET /api/profiles/{recipientID} - Limited profile for a sender
//   - POST /api/profiles - Limited profile lookup with the recipient ID in the body
//
// # Crash recovery
//
// Workflow history lives on disk. On startup, and then on the configured
// cron schedule, the server sweeps the history store and resumes every
// instance that never finished. Recorded activity results are replayed,
// so only the unfinished tail of each instance runs again.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/msgflow/activities"
	"github.com/nomis52/msgflow/clients/mailclient"
	"github.com/nomis52/msgflow/clients/webhookclient"
	"github.com/nomis52/msgflow/config"
	"github.com/nomis52/msgflow/logging"
	"github.com/nomis52/msgflow/metrics"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/server/cron"
	"github.com/nomis52/msgflow/server/dispatcher"
	"github.com/nomis52/msgflow/server/handlers"
	"github.com/nomis52/msgflow/statusreporter"
	"github.com/nomis52/msgflow/store"
	"github.com/nomis52/msgflow/workflow"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the msgflow HTTP server.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	startedAt time.Time
	hostname  string

	documents   *store.Store
	history     workflow.HistoryStore
	registry    *metrics.ScrapeRegistry
	dispatcher  *dispatcher.Dispatcher
	cronTrigger *cron.CronTrigger
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger for the server and everything it
// builds.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// New creates a Server from a validated configuration. It opens the
// document store, loads workflow history from disk, and wires the
// activities, metrics and dispatcher.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	hostname, _ := os.Hostname()

	s := &Server{
		cfg:       cfg,
		logger:    slog.Default(),
		startedAt: time.Now(),
		hostname:  hostname,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	documents, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	s.documents = documents

	history, err := workflow.NewDiskStore(cfg.Storage.HistoryDir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	s.history = history

	registry, err := metrics.NewScrapeRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}
	s.registry = registry

	tracker, err := processor.NewMetricsTracker(registry, s.logger)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry tracker: %w", err)
	}

	runningGauge, err := registry.NewGauge(prometheus.GaugeOpts{
		Name: "running_instances",
		Help: "Number of workflow instances currently executing.",
	})
	if err != nil {
		return nil, fmt.Errorf("registering running gauge: %w", err)
	}

	activitySet, err := s.buildActivities()
	if err != nil {
		return nil, err
	}
	activityRegistry := workflow.NewRegistry()
	if err := activitySet.Register(activityRegistry); err != nil {
		return nil, fmt.Errorf("registering activities: %w", err)
	}

	reporter := statusreporter.New(s.logger)
	runner := workflow.NewRunner(activityRegistry, history,
		workflow.WithLogger(s.logger),
		workflow.WithStatusSink(reporter))

	retry := workflow.RetryPolicy{
		Interval:    cfg.Retry.Interval,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	s.dispatcher = dispatcher.New(runner, history, retry, tracker,
		dispatcher.WithLogger(s.logger),
		dispatcher.WithStatusReporter(reporter),
		dispatcher.WithLogCollector(logging.NewLogCollector()),
		dispatcher.WithRunningGauge(runningGauge))

	if cfg.Sweeper.Schedule != "" {
		trigger, err := cron.NewCronTrigger(cfg.Sweeper.Schedule, s.dispatcher, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating resume sweeper: %w", err)
		}
		s.cronTrigger = trigger
	}

	return s, nil
}

// buildActivities wires the activity set from the configuration.
func (s *Server) buildActivities() (*activities.Activities, error) {
	opts := []activities.Option{
		activities.WithLogger(s.logger),
	}

	if s.cfg.Mail.Host != "" {
		mail, err := mailclient.New(s.cfg.Mail.Host, s.cfg.Mail.From,
			mailclient.WithPort(s.cfg.Mail.Port),
			mailclient.WithCredentials(s.cfg.Mail.Username, s.cfg.Mail.Password),
			mailclient.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("creating mail client: %w", err)
		}
		opts = append(opts, activities.WithMail(mail))
	}

	webhookOpts := []webhookclient.Option{
		webhookclient.WithTimeout(s.cfg.Webhook.Timeout),
		webhookclient.WithLogger(s.logger),
	}
	if s.cfg.Webhook.SigningSecret != "" {
		webhookOpts = append(webhookOpts, webhookclient.WithSigningSecret(s.cfg.Webhook.SigningSecret))
	}
	opts = append(opts, activities.WithWebhookFactory(func(url string) (activities.WebhookNotifier, error) {
		return webhookclient.New(url, webhookOpts...)
	}))

	return activities.New(s.documents, opts...), nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	return &s.cfg
}

// Start launches a workflow instance for an accepted message event.
func (s *Server) Start(event processor.MessageEvent, raw []byte) (string, error) {
	return s.dispatcher.Start(event, raw)
}

// Statuses returns the tracked workflow instances.
func (s *Server) Statuses() []dispatcher.InstanceStatus {
	return s.dispatcher.Statuses()
}

// History returns finished instances with their captured logs.
func (s *Server) History() []dispatcher.InstanceRecord {
	return s.dispatcher.History()
}

// Counts summarizes the document store.
func (s *Server) Counts(ctx context.Context) (store.Counts, error) {
	return s.documents.Counts(ctx)
}

// NextSweep returns the next scheduled resume sweep, or nil when no
// sweeper is configured.
func (s *Server) NextSweep() *time.Time {
	if s.cronTrigger == nil {
		return nil
	}
	next := s.cronTrigger.NextRun()
	return &next
}

// StartedAt returns when this server process started.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// Hostname returns the host this server runs on.
func (s *Server) Hostname() string {
	return s.hostname
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// A startup sweep resumes instances left pending by a previous crash,
// and the cron trigger keeps sweeping on its schedule.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	useTLS := s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != ""
	if useTLS {
		loader, err := NewCertLoader(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey, s.logger)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			GetCertificate: loader.GetCertificate,
		}
	}

	// Resume whatever a previous process left unfinished.
	go func() {
		if err := s.dispatcher.Sweep(ctx); err != nil {
			s.logger.Warn("startup sweep completed with error", "error", err)
		}
	}()

	if s.cronTrigger != nil {
		s.logger.Info("starting resume sweeper",
			"schedule", s.cfg.Sweeper.Schedule,
			"next_sweep", s.cronTrigger.NextRun(),
		)
		s.cronTrigger.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.cfg.Server.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		if closeErr := s.documents.Close(); closeErr != nil {
			s.logger.Error("failed to close document store", "error", closeErr)
		}
		return err
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s.logger, s))
	mux.Handle("POST /api/messages", handlers.NewMessagesHandler(s))
	mux.Handle("GET /history", handlers.NewHistoryHandler(s))
	mux.Handle("GET /config", handlers.NewConfigHandler(s))
	mux.Handle("GET /metrics", s.registry.Handler())

	mux.Handle("POST /api/services", handlers.NewCreateServiceHandler(s.logger, s.documents))
	mux.Handle("GET /api/services/{id}", handlers.NewGetServiceHandler(s.documents))
	mux.Handle("PUT /api/services/{id}/keys", handlers.NewRotateServiceKeysHandler(s.logger, s.documents))
	mux.Handle("GET /api/profiles/{recipientID}", handlers.NewGetProfileHandler(s.documents))
	mux.Handle("POST /api/profiles", handlers.NewGetProfileByPOSTHandler(s.documents))
}
