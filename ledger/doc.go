// Package ledger records per-sheet completion for the materials of a job.
//
// Each material owns a fixed-capacity arena of sheet statuses sized to its
// total sheet count, and optionally one recut entry whose arena grows as
// recut sheets are added. Completed counts are always derived from the
// arena and never stored.
package ledger
