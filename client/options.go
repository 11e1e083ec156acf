package client

import (
	"log/slog"
	"time"

	"github.com/xraph/cuttrack/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the authentication token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithFormat sets the wire format for frame encoding.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect enables automatic reconnection. maxAttempts bounds each
// reconnect cycle; zero or less retries until Close. A nil strategy keeps
// backoff.DefaultReconnect.
func WithReconnect(maxAttempts int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxAttempts
		if strategy != nil {
			c.strategy = strategy
		}
	}
}

// WithKeepalive sets the ping interval. Zero disables pings.
func WithKeepalive(interval time.Duration) Option {
	return func(c *Client) { c.keepalive = interval }
}
