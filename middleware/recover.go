package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrPanic wraps a panic recovered from an operation handler.
var ErrPanic = errors.New("operation panicked")

// Recover turns a panic anywhere further down the chain into an error
// wrapping ErrPanic.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *Op, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := []slog.Attr{
				slog.String("op", op.Name),
				slog.String("job_id", op.JobID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			}
			if !op.Target.IsNil() {
				attrs = append(attrs, slog.String("target", op.Target.String()))
			}
			logger.LogAttrs(ctx, slog.LevelError, "operation panicked", attrs...)
			err = fmt.Errorf("%w: %s: %v", ErrPanic, op.Name, r)
		}()
		return next(ctx)
	}
}
