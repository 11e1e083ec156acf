// Package ext defines the extension system for the tracking engine.
//
// Extensions are notified after every committed mutation and can react to
// them: publishing change events, recording metrics, writing audit logs.
// Each hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed after %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Hooks
//
//   - [JobCreated], [JobStarted], [JobPaused], [JobCompleted], [JobDeleted]
//
// # Ledger Hooks
//
//   - [SheetStatusChanged] for material sheets
//   - [RecutAdded] when a recut entry is created or extended
//   - [RecutSheetStatusChanged] for recut sheets
//
// The [Registry] calls hooks synchronously in registration order. The
// engine emits while it still holds the job's lock, so hooks observe the
// mutations of one job in commit order and must not block.
package ext
