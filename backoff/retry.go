package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExhausted is returned by Retry when every attempt failed with a
// retryable error. The last attempt's error is wrapped alongside it.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	// Strategy paces the attempts. Nil means DefaultReconnect.
	Strategy Strategy
	// MaxAttempts is the total number of attempts, the first included.
	// Zero or negative means retry until ctx is done.
	MaxAttempts int
	// Clock is the time source for waits. Nil means the real clock.
	Clock clockwork.Clock
	// OnRetry, if set, is called before each wait with the attempt that
	// just failed and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry calls fn until it succeeds, returns a Permanent error, the policy
// runs out of attempts, or ctx is done. fn receives the 1-indexed attempt.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultReconnect()
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		delay := strategy.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
	}
}
