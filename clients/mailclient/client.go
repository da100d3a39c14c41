// Package mailclient sends notification emails over SMTP.
package mailclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/smtp"
	"strings"
)

// DefaultPort is the SMTP submission port.
const DefaultPort = 587

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// sendFunc matches smtp.SendMail, swappable in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Client sends mail through one SMTP server.
type Client struct {
	Host   string
	Port   int
	From   string
	Logger *slog.Logger

	username string
	password string
	send     sendFunc
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.Logger = logger
	}
}

// WithPort overrides the SMTP port.
func WithPort(port int) Option {
	return func(c *Client) {
		c.Port = port
	}
}

// WithCredentials enables PLAIN authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a Client for the given SMTP host and sender address.
func New(host, from string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}

	c := &Client{
		Host:   host,
		Port:   DefaultPort,
		From:   from,
		Logger: slog.Default(),
		send:   smtp.SendMail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send delivers one message. Transport errors are returned as-is so the
// caller's retry policy applies.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.Host)
	}

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	if err := c.send(addr, auth, c.From, []string{msg.To}, c.encode(msg)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}
	c.Logger.Debug("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// encode renders the RFC 5322 message bytes.
func (c *Client) encode(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
