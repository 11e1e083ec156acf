package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/cuttrack"
)

// Logging returns middleware that logs each operation's outcome. Domain
// rejections (not found, validation, invalid transition) log at Info;
// anything else logs at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, op *Op, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		attrs := []slog.Attr{
			slog.String("op", op.Name),
			slog.String("job_id", op.JobID.String()),
			slog.Duration("elapsed", elapsed),
		}
		if !op.Target.IsNil() {
			attrs = append(attrs, slog.String("target", op.Target.String()))
		}

		switch {
		case err == nil:
			logger.LogAttrs(ctx, slog.LevelDebug, "operation applied", attrs...)
		case isRejection(err):
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.LogAttrs(ctx, slog.LevelInfo, "operation rejected", attrs...)
		default:
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.LogAttrs(ctx, slog.LevelError, "operation failed", attrs...)
		}

		return err
	}
}

func isRejection(err error) bool {
	return cuttrack.IsNotFound(err) ||
		errors.Is(err, cuttrack.ErrValidation) ||
		errors.Is(err, cuttrack.ErrInvalidTransition)
}
