// Package backoff paces retries. The client uses it between event-stream
// reconnects and the redis store between optimistic-transaction retries.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns the wait before retry n, where n is 1 for the first
	// retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant waits the same interval before every retry.
type Constant struct {
	Interval time.Duration
}

// NewConstant returns a Constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay implements Strategy.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt starting from Initial, capped
// at Max when Max is positive. With Jitter set the delay is drawn uniformly
// from [0, capped delay] so that many clients dropped by the same server
// restart do not reconnect in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential returns an Exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter returns an Exponential strategy with full
// jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay implements Strategy.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	d := time.Duration(math.MaxInt64)
	if base < float64(math.MaxInt64) {
		d = time.Duration(base)
	}
	if e.Jitter {
		d = time.Duration(float64(d) * rand.Float64()) //nolint:gosec // jitter does not need crypto rand
	}
	return d
}

// DefaultReconnect paces client reconnects: 500ms doubling to 30s, with
// jitter.
func DefaultReconnect() Strategy {
	return NewExponentialWithJitter(500*time.Millisecond, 30*time.Second)
}

// DefaultConflict paces optimistic-transaction retries: 5ms doubling to
// 200ms, with jitter.
func DefaultConflict() Strategy {
	return NewExponentialWithJitter(5*time.Millisecond, 200*time.Millisecond)
}
