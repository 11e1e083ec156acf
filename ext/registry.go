package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobCreated        []entry[JobCreated]
	jobStarted        []entry[JobStarted]
	jobPaused         []entry[JobPaused]
	jobCompleted      []entry[JobCompleted]
	jobDeleted        []entry[JobDeleted]
	sheetChanged      []entry[SheetStatusChanged]
	recutAdded        []entry[RecutAdded]
	recutSheetChanged []entry[RecutSheetStatusChanged]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches it under every hook it
// implements. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.jobCreated = add(r.jobCreated, e)
	r.jobStarted = add(r.jobStarted, e)
	r.jobPaused = add(r.jobPaused, e)
	r.jobCompleted = add(r.jobCompleted, e)
	r.jobDeleted = add(r.jobDeleted, e)
	r.sheetChanged = add(r.sheetChanged, e)
	r.recutAdded = add(r.recutAdded, e)
	r.recutSheetChanged = add(r.recutSheetChanged, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		r.check("OnJobCreated", e.name, e.hook.OnJobCreated(ctx, j))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobPaused notifies all extensions that implement JobPaused.
func (r *Registry) EmitJobPaused(ctx context.Context, j *job.Job, reason job.PauseReason) {
	for _, e := range r.jobPaused {
		r.check("OnJobPaused", e.name, e.hook.OnJobPaused(ctx, j, reason))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobDeleted notifies all extensions that implement JobDeleted.
func (r *Registry) EmitJobDeleted(ctx context.Context, jobID id.JobID) {
	for _, e := range r.jobDeleted {
		r.check("OnJobDeleted", e.name, e.hook.OnJobDeleted(ctx, jobID))
	}
}

// ──────────────────────────────────────────────────
// Ledger event emitters
// ──────────────────────────────────────────────────

// EmitSheetStatusChanged notifies all extensions that implement
// SheetStatusChanged.
func (r *Registry) EmitSheetStatusChanged(ctx context.Context, j *job.Job, m *ledger.Material, index int, status ledger.SheetStatus) {
	for _, e := range r.sheetChanged {
		r.check("OnSheetStatusChanged", e.name, e.hook.OnSheetStatusChanged(ctx, j, m, index, status))
	}
}

// EmitRecutAdded notifies all extensions that implement RecutAdded.
func (r *Registry) EmitRecutAdded(ctx context.Context, j *job.Job, re *ledger.RecutEntry, added int) {
	for _, e := range r.recutAdded {
		r.check("OnRecutAdded", e.name, e.hook.OnRecutAdded(ctx, j, re, added))
	}
}

// EmitRecutSheetStatusChanged notifies all extensions that implement
// RecutSheetStatusChanged.
func (r *Registry) EmitRecutSheetStatusChanged(ctx context.Context, j *job.Job, re *ledger.RecutEntry, index int, status ledger.SheetStatus) {
	for _, e := range r.recutSheetChanged {
		r.check("OnRecutSheetStatusChanged", e.name, e.hook.OnRecutSheetStatusChanged(ctx, j, re, index, status))
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a warning when a hook returns an error. Hook errors never
// propagate back into the mutation that triggered them.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
