package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that bounds each operation with a deadline.
// A zero or negative d disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *Op, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
