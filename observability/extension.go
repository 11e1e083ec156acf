package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension               = (*MetricsExtension)(nil)
	_ ext.JobCreated              = (*MetricsExtension)(nil)
	_ ext.JobStarted              = (*MetricsExtension)(nil)
	_ ext.JobPaused               = (*MetricsExtension)(nil)
	_ ext.JobCompleted            = (*MetricsExtension)(nil)
	_ ext.JobDeleted              = (*MetricsExtension)(nil)
	_ ext.SheetStatusChanged      = (*MetricsExtension)(nil)
	_ ext.RecutAdded              = (*MetricsExtension)(nil)
	_ ext.RecutSheetStatusChanged = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/cuttrack/observability"

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to track how many jobs are started, paused
// and completed, how long completed jobs took, and how many sheets and
// recuts are recorded.
type MetricsExtension struct {
	JobCreated    metric.Int64Counter
	JobStarted    metric.Int64Counter
	JobPaused     metric.Int64Counter
	JobCompleted  metric.Int64Counter
	JobDeleted    metric.Int64Counter
	JobDuration   metric.Float64Histogram
	SheetsUpdated metric.Int64Counter
	RecutSheets   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
//
//nolint:errcheck // noop fallback guaranteed by OTel API contract
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.JobCreated, _ = meter.Int64Counter("cuttrack.job.created",
		metric.WithDescription("Jobs created"))
	m.JobStarted, _ = meter.Int64Counter("cuttrack.job.started",
		metric.WithDescription("Job start transitions"))
	m.JobPaused, _ = meter.Int64Counter("cuttrack.job.paused",
		metric.WithDescription("Job pause transitions by reason"))
	m.JobCompleted, _ = meter.Int64Counter("cuttrack.job.completed",
		metric.WithDescription("Jobs completed"))
	m.JobDeleted, _ = meter.Int64Counter("cuttrack.job.deleted",
		metric.WithDescription("Jobs deleted"))
	m.JobDuration, _ = meter.Float64Histogram("cuttrack.job.duration",
		metric.WithDescription("Accumulated work time of completed jobs"),
		metric.WithUnit("s"))
	m.SheetsUpdated, _ = meter.Int64Counter("cuttrack.sheet.updated",
		metric.WithDescription("Sheet status writes by status and ledger"))
	m.RecutSheets, _ = meter.Int64Counter("cuttrack.recut.sheets",
		metric.WithDescription("Sheets added through recuts"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, _ *job.Job) error {
	m.JobCreated.Add(ctx, 1)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, _ *job.Job) error {
	m.JobStarted.Add(ctx, 1)
	return nil
}

// OnJobPaused implements ext.JobPaused.
func (m *MetricsExtension) OnJobPaused(ctx context.Context, _ *job.Job, reason job.PauseReason) error {
	m.JobPaused.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	m.JobDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (m *MetricsExtension) OnJobDeleted(ctx context.Context, _ id.JobID) error {
	m.JobDeleted.Add(ctx, 1)
	return nil
}

// ── Ledger hooks ────────────────────────────────────

// OnSheetStatusChanged implements ext.SheetStatusChanged.
func (m *MetricsExtension) OnSheetStatusChanged(ctx context.Context, _ *job.Job, _ *ledger.Material, _ int, status ledger.SheetStatus) error {
	m.SheetsUpdated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("ledger", "material"),
	))
	return nil
}

// OnRecutAdded implements ext.RecutAdded.
func (m *MetricsExtension) OnRecutAdded(ctx context.Context, _ *job.Job, _ *ledger.RecutEntry, added int) error {
	m.RecutSheets.Add(ctx, int64(added))
	return nil
}

// OnRecutSheetStatusChanged implements ext.RecutSheetStatusChanged.
func (m *MetricsExtension) OnRecutSheetStatusChanged(ctx context.Context, _ *job.Job, _ *ledger.RecutEntry, _ int, status ledger.SheetStatus) error {
	m.SheetsUpdated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("ledger", "recut"),
	))
	return nil
}
