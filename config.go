package cuttrack

import "time"

// Config holds configuration for the tracking engine.
type Config struct {
	// IdleTimeout is how long an in-progress job may go without any
	// activity before it is paused automatically. Zero disables the
	// idle sweep.
	IdleTimeout time.Duration

	// IdleSweepInterval is how often in-progress jobs are checked
	// against IdleTimeout.
	IdleSweepInterval time.Duration

	// SubscriberBuffer is the per-subscriber event buffer size.
	SubscriberBuffer int

	// SubscriberCredits is the initial flow-control credit given to new
	// subscribers. Zero means unlimited.
	SubscriberCredits int64

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       30 * time.Minute,
		IdleSweepInterval: time.Minute,
		SubscriberBuffer:  256,
		SubscriberCredits: 0,
		ShutdownTimeout:   30 * time.Second,
	}
}
