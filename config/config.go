package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default server settings
	defaultListenAddr = ":8080"

	// Default storage settings
	defaultDatabasePath = "msgflow.db"
	defaultHistoryDir   = "history"

	// Default retry settings for activity invocations
	defaultRetryInterval    = 5 * time.Second
	defaultRetryMaxAttempts = 10

	// Default mail settings
	defaultMailPort = 587

	// Default webhook settings
	defaultWebhookTimeout = 10 * time.Second

	// Default telemetry settings
	defaultTelemetryMode = "scrape"
	defaultMetricsPrefix = "msgflow"
	defaultJobName       = "msgflow"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Mail      MailConfig      `yaml:"mail"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Retry     RetryConfig     `yaml:"retry"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Addr is the listen address, defaults to :8080
	Addr string `yaml:"addr"`
	// TLSCert and TLSKey enable TLS when both are set
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	// DatabasePath is the path to the sqlite database file
	DatabasePath string `yaml:"database_path"`
	// HistoryDir is the directory used to store workflow instance history
	HistoryDir string `yaml:"history_dir"`
}

// MailConfig holds SMTP delivery settings for the email channel
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// From is the sender address used for all notification emails
	From string `yaml:"from"`
}

// WebhookConfig holds delivery settings for the webhook channel
type WebhookConfig struct {
	// Timeout bounds a single webhook POST
	Timeout time.Duration `yaml:"timeout"`
	// SigningSecret is used to compute the HMAC signature header.
	// Webhook payloads are unsigned when empty.
	SigningSecret string `yaml:"signing_secret"`
}

// RetryConfig defines the activity retry budget.
// The same policy value is used for every activity invocation.
type RetryConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SweeperConfig defines the schedule for resuming incomplete instances
type SweeperConfig struct {
	// Schedule is a standard 5-field cron spec. Empty disables the sweeper.
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig holds metrics settings
type TelemetryConfig struct {
	// Mode selects how metrics are exposed: "scrape" or "push"
	Mode string `yaml:"mode"`
	// RemoteWriteURL is the remote write endpoint used in push mode
	RemoteWriteURL string `yaml:"remote_write_url"`
	MetricsPrefix  string `yaml:"metrics_prefix"`
	JobName        string `yaml:"jobname"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database path is required")
	}
	if c.Storage.HistoryDir == "" {
		return fmt.Errorf("storage history dir is required")
	}
	if c.Mail.Host != "" && c.Mail.From == "" {
		return fmt.Errorf("mail from address is required when mail host is set")
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("retry interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}
	switch c.Telemetry.Mode {
	case "scrape":
	case "push":
		if c.Telemetry.RemoteWriteURL == "" {
			return fmt.Errorf("telemetry remote write URL is required in push mode")
		}
	default:
		return fmt.Errorf("telemetry mode must be scrape or push, got %q", c.Telemetry.Mode)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server TLS cert and key must be set together")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultListenAddr
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = defaultDatabasePath
	}
	if c.Storage.HistoryDir == "" {
		c.Storage.HistoryDir = defaultHistoryDir
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = defaultMailPort
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = defaultWebhookTimeout
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = defaultRetryInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Telemetry.Mode == "" {
		c.Telemetry.Mode = defaultTelemetryMode
	}
	if c.Telemetry.MetricsPrefix == "" {
		c.Telemetry.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Telemetry.JobName == "" {
		c.Telemetry.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
	// Defaults for boolean fields are already false, which is appropriate
}

// Redacted returns a copy of the configuration with credential fields
// masked, suitable for exposure over the config endpoint.
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.Mail.Password != "" {
		redacted.Mail.Password = "[REDACTED]"
	}
	if redacted.Webhook.SigningSecret != "" {
		redacted.Webhook.SigningSecret = "[REDACTED]"
	}
	return redacted
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
