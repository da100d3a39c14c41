// Package webhookclient delivers notification payloads to a recipient's
// webhook endpoint as signed JSON POSTs.
package webhookclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Msgflow-Signature"

// DefaultTimeout bounds each delivery request.
const DefaultTimeout = 10 * time.Second

// Client posts notification payloads to one webhook endpoint.
type Client struct {
	Host   string
	Logger *slog.Logger

	client *http.Client
	secret []byte
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.Logger = logger
	}
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithSigningSecret enables request signing. Without a secret no
// signature header is sent.
func WithSigningSecret(secret string) Option {
	return func(c *Client) {
		c.secret = []byte(secret)
	}
}

// New creates a Client for the given endpoint URL.
func New(host string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("host URL must include scheme: %s", host)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host URL must include a host: %s", host)
	}

	c := &Client{
		Host:   host,
		Logger: slog.Default(),
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Notify posts the payload as JSON. Any non-2xx response is an error so
// the caller's retry policy applies.
func (c *Client) Notify(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, c.sign(body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(detail))
	}

	c.Logger.Debug("webhook delivered", "host", c.Host, "status", resp.StatusCode)
	return nil
}

func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
