package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nomis52/msgflow/activities"
	"github.com/nomis52/msgflow/buildinfo"
	"github.com/nomis52/msgflow/clients/mailclient"
	"github.com/nomis52/msgflow/clients/webhookclient"
	"github.com/nomis52/msgflow/config"
	"github.com/nomis52/msgflow/logging"
	"github.com/nomis52/msgflow/metrics"
	"github.com/nomis52/msgflow/processor"
	"github.com/nomis52/msgflow/store"
	"github.com/nomis52/msgflow/workflow"
)

type Args struct {
	ConfigPath  string
	EventPath   string
	ShowVersion bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}
	if args.EventPath == "" {
		return fmt.Errorf("event flag (-e or --event) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("msgflow started",
		"build_time", props.BuildTime,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
		"event_path", args.EventPath,
	)

	raw, err := os.ReadFile(args.EventPath)
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}
	event, err := processor.DecodeMessageEvent(raw)
	if err != nil {
		return fmt.Errorf("invalid message event: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	tracker, err := processor.NewMetricsTracker(registry, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create telemetry tracker: %w", err)
	}

	documents, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer documents.Close()

	history, err := workflow.NewDiskStore(cfg.Storage.HistoryDir, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	activitySet, err := buildActivities(cfg, documents, logger)
	if err != nil {
		return err
	}
	activityRegistry := workflow.NewRegistry()
	if err := activitySet.Register(activityRegistry); err != nil {
		return fmt.Errorf("failed to register activities: %w", err)
	}

	runner := workflow.NewRunner(activityRegistry, history, workflow.WithLogger(logger.Logger))
	retry := workflow.RetryPolicy{
		Interval:    cfg.Retry.Interval,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	coordinator := processor.NewCoordinator(retry, tracker, processor.WithLogger(logger.Logger))

	// The message ID doubles as the instance ID, so an interrupted run
	// resumes from its recorded history instead of starting over.
	ctx := context.Background()
	if err := runner.Run(ctx, event.Message.ID, coordinator.Process, raw); err != nil {
		return fmt.Errorf("processing message %s: %w", event.Message.ID, err)
	}

	logger.Info("msgflow completed", "message_id", event.Message.ID)
	return nil
}

// buildRegistry selects the metrics mode. Push mode delivers every sample
// to the remote write endpoint as it is recorded, which suits a process
// that exits before any scrape could happen.
func buildRegistry(cfg config.Config) (metrics.Registry, error) {
	if cfg.Telemetry.Mode == "push" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		return metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Telemetry.RemoteWriteURL,
			Prefix:   cfg.Telemetry.MetricsPrefix,
			Job:      cfg.Telemetry.JobName,
			Instance: hostname,
		}), nil
	}
	registry, err := metrics.NewScrapeRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics registry: %w", err)
	}
	return registry, nil
}

func buildActivities(cfg config.Config, documents *store.Store, logger *logging.Logger) (*activities.Activities, error) {
	opts := []activities.Option{
		activities.WithLogger(logger.Logger),
	}

	if cfg.Mail.Host != "" {
		mail, err := mailclient.New(cfg.Mail.Host, cfg.Mail.From,
			mailclient.WithPort(cfg.Mail.Port),
			mailclient.WithCredentials(cfg.Mail.Username, cfg.Mail.Password),
			mailclient.WithLogger(logger.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create mail client: %w", err)
		}
		opts = append(opts, activities.WithMail(mail))
	}

	webhookOpts := []webhookclient.Option{
		webhookclient.WithTimeout(cfg.Webhook.Timeout),
		webhookclient.WithLogger(logger.Logger),
	}
	if cfg.Webhook.SigningSecret != "" {
		webhookOpts = append(webhookOpts, webhookclient.WithSigningSecret(cfg.Webhook.SigningSecret))
	}
	opts = append(opts, activities.WithWebhookFactory(func(url string) (activities.WebhookNotifier, error) {
		return webhookclient.New(url, webhookOpts...)
	}))

	return activities.New(documents, opts...), nil
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	eventPath := flag.String("event", "", "Path to message event JSON file")
	eventPathShort := flag.String("e", "", "Path to message event JSON file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}
	event := *eventPath
	if event == "" && *eventPathShort != "" {
		event = *eventPathShort
	}

	return Args{
		ConfigPath:  path,
		EventPath:   event,
		ShowVersion: *showVersion,
	}
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("msgflow\n")
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}
