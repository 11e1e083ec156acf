package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension               = (*Extension)(nil)
	_ ext.JobCreated              = (*Extension)(nil)
	_ ext.JobStarted              = (*Extension)(nil)
	_ ext.JobPaused               = (*Extension)(nil)
	_ ext.JobCompleted            = (*Extension)(nil)
	_ ext.JobDeleted              = (*Extension)(nil)
	_ ext.SheetStatusChanged      = (*Extension)(nil)
	_ ext.RecutAdded              = (*Extension)(nil)
	_ ext.RecutSheetStatusChanged = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
	Version    int64          `json:"version,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges job and ledger changes to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	disabled map[string]bool
	minRank  int
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	completed, total := j.Progress()
	return e.record(ctx, ActionJobCreated, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j, "",
		"job_name", j.Name,
		"cutlists", len(j.Cutlists),
		"sheets_completed", completed,
		"sheets_total", total,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j, "",
		"job_name", j.Name,
		"total_ms", j.Timer.Total.Milliseconds(),
	)
}

// OnJobPaused implements ext.JobPaused. Idle pauses are recorded at
// warning severity.
func (e *Extension) OnJobPaused(ctx context.Context, j *job.Job, reason job.PauseReason) error {
	severity := SeverityInfo
	if reason == job.PauseIdle {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionJobPaused, severity, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j, string(reason),
		"job_name", j.Name,
		"total_ms", j.Timer.Total.Milliseconds(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	completed, total := j.Progress()
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j, "",
		"job_name", j.Name,
		"elapsed_ms", elapsed.Milliseconds(),
		"sheets_completed", completed,
		"sheets_total", total,
	)
}

// OnJobDeleted implements ext.JobDeleted.
func (e *Extension) OnJobDeleted(ctx context.Context, jobID id.JobID) error {
	return e.record(ctx, ActionJobDeleted, SeverityWarning, OutcomeSuccess,
		ResourceJob, jobID.String(), CategoryJob, nil, "",
		"job_id", jobID.String(),
	)
}

// ── Ledger hooks ────────────────────────────────────

// OnSheetStatusChanged implements ext.SheetStatusChanged.
func (e *Extension) OnSheetStatusChanged(ctx context.Context, j *job.Job, m *ledger.Material, index int, status ledger.SheetStatus) error {
	return e.record(ctx, ActionSheetUpdated, SeverityInfo, OutcomeSuccess,
		ResourceMaterial, m.ID.String(), CategoryLedger, j, "",
		"material_name", m.Name,
		"sheet_index", index,
		"status", string(status),
		"sheets_completed", m.CompletedSheets(),
		"sheets_total", m.TotalSheets,
	)
}

// OnRecutAdded implements ext.RecutAdded.
func (e *Extension) OnRecutAdded(ctx context.Context, j *job.Job, r *ledger.RecutEntry, added int) error {
	return e.record(ctx, ActionRecutAdded, SeverityInfo, OutcomeSuccess,
		ResourceRecut, r.ID.String(), CategoryLedger, j, "",
		"material_id", r.MaterialID.String(),
		"added", added,
		"quantity", r.Quantity,
	)
}

// OnRecutSheetStatusChanged implements ext.RecutSheetStatusChanged.
func (e *Extension) OnRecutSheetStatusChanged(ctx context.Context, j *job.Job, r *ledger.RecutEntry, index int, status ledger.SheetStatus) error {
	return e.record(ctx, ActionRecutSheetUpdated, SeverityInfo, OutcomeSuccess,
		ResourceRecut, r.ID.String(), CategoryLedger, j, "",
		"material_id", r.MaterialID.String(),
		"sheet_index", index,
		"status", string(status),
		"sheets_completed", r.CompletedSheets(),
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) wants(action, severity string) bool {
	if e.enabled != nil && !e.enabled[action] {
		return false
	}
	return !e.disabled[action] && severityRank(severity) >= e.minRank
}

// record builds and sends an audit event if the filters let it through.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	j *job.Job, reason string,
	kvPairs ...any,
) error {
	if !e.wants(action, severity) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	if j != nil {
		evt.JobID = j.ID.String()
		evt.Version = j.Version
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
