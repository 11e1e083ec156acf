// Package audithook is a cuttrack extension that bridges job and ledger
// changes to an append-only audit trail.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface: who paused a job and why, which sheet changed
// status, how many sheets a recut added. Idle auto-pauses are recorded at
// warning severity so operators can spot jobs left running.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobCompleted,
//	        audithook.ActionJobDeleted,
//	        audithook.ActionRecutAdded,
//	    ),
//	)
package audithook
