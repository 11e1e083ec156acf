package ext

import (
	"context"
	"time"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job is persisted.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobStarted is called after a job moves to in_progress.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobPaused is called after a job moves to paused.
type JobPaused interface {
	OnJobPaused(ctx context.Context, j *job.Job, reason job.PauseReason) error
}

// JobCompleted is called after a job moves to done. elapsed is the
// accumulated work time.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobDeleted is called after a job and everything it owns is removed.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// SheetStatusChanged is called after a material sheet changes status.
type SheetStatusChanged interface {
	OnSheetStatusChanged(ctx context.Context, j *job.Job, m *ledger.Material, index int, status ledger.SheetStatus) error
}

// RecutAdded is called after a recut entry is created or extended by
// added sheets.
type RecutAdded interface {
	OnRecutAdded(ctx context.Context, j *job.Job, r *ledger.RecutEntry, added int) error
}

// RecutSheetStatusChanged is called after a recut sheet changes status.
type RecutSheetStatusChanged interface {
	OnRecutSheetStatusChanged(ctx context.Context, j *job.Job, r *ledger.RecutEntry, index int, status ledger.SheetStatus) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
