package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/cuttrack"

// Tracing wraps each operation in a span from the global TracerProvider.
// Spans carry cuttrack.op, cuttrack.job.id and, for sheet and recut
// operations, cuttrack.target.id.
//
// A domain rejection (unknown job, invalid transition, bad index) is the
// caller's mistake, not a fault: it is recorded as a "rejected" span event
// and leaves the status unset. Other errors mark the span failed.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, op *Op, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("cuttrack.op", op.Name),
			attribute.String("cuttrack.job.id", op.JobID.String()),
		}
		if !op.Target.IsNil() {
			attrs = append(attrs, attribute.String("cuttrack.target.id", op.Target.String()))
		}

		ctx, span := tracer.Start(ctx, "cuttrack."+op.Name, trace.WithAttributes(attrs...))
		defer span.End()

		err := next(ctx)
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case isRejection(err):
			span.AddEvent("rejected", trace.WithAttributes(attribute.String("reason", err.Error())))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
