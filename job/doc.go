// Package job defines the job aggregate, its lifecycle state machine, the
// elapsed-time accumulator, and the store interface.
//
// # Lifecycle
//
// A [Job] is created waiting and moves through:
//
//	waiting → in_progress
//	in_progress → paused → in_progress → ...
//	any → done (terminal)
//
// Starting a job opens a timer segment; pausing or completing folds the
// running segment into the accumulated total. Completing a job that is
// already done is a no-op.
//
// # Aggregate
//
// A job owns its cutlists, their materials and any recut entries. Stores
// persist the whole aggregate and expose [Store.MutateJob] for atomic
// read-modify-write, so callers apply transitions in memory and let the
// store decide how to make the write safe across processes.
package job
