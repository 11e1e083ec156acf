package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for cuttrack metrics.
const meterName = "github.com/xraph/cuttrack"

// Metrics returns middleware that records per-operation metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - cuttrack.op.duration (Float64Histogram): seconds spent under the
//     job lock, with attributes op and status
//   - cuttrack.op.count (Int64Counter): operations applied, with
//     attributes op and status
//
// status is "ok", "rejected" for domain rejections, or "error".
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"cuttrack.op.duration",
		metric.WithDescription("Duration of engine operations in seconds"),
		metric.WithUnit("s"),
	)
	count, _ := meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"cuttrack.op.count",
		metric.WithDescription("Total number of engine operations"),
		metric.WithUnit("{operation}"),
	)

	return func(ctx context.Context, op *Op, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case err == nil:
		case isRejection(err):
			status = "rejected"
		default:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("op", op.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		count.Add(ctx, 1, attrs)

		return err
	}
}
