package dwp

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a DWP Server.
type Option func(*Server)

// WithAuth sets the authenticator for the DWP server.
// If not set, NoopAuthenticator is used (development mode).
func WithAuth(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithCodec sets the default codec for the DWP server.
// Clients can override via the auth frame's format field.
func WithCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// WithLogger sets the logger for the DWP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit caps requests per connection. Ping and credit frames are
// not counted. A zero limit disables rate limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

// WithReadTimeout closes connections that send nothing for d. Clients
// keep idle connections open with ping frames. Zero disables the timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithAuthTimeout bounds how long a new connection may take to send its
// auth frame.
func WithAuthTimeout(d time.Duration) Option {
	return func(s *Server) { s.authTimeout = d }
}

// WithLagCheckInterval sets how often an idle connection is checked for
// dropped events.
func WithLagCheckInterval(d time.Duration) Option {
	return func(s *Server) { s.lagCheck = d }
}
