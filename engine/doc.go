// Package engine wires the tracking subsystems together. It owns the store,
// the extension registry, the change broker, the middleware chain, the
// per-job lock and the idle reaper, and exposes every job, sheet and recut
// operation.
//
// This package exists to break the import cycle: the root cuttrack package
// defines Entity and the error taxonomy (imported by job, ledger, stream,
// etc.) and so cannot import those packages back. The engine sits above all
// subsystem packages and below the transports.
//
// # Serialization
//
// Every mutation of a job runs under that job's lock, from loading the
// aggregate through persisting it and emitting extension hooks. Two
// operations on the same job therefore never interleave, and subscribers
// observe events in commit order. Operations on different jobs run in
// parallel. Material and recut operations resolve the owning job first and
// then lock it.
//
// # Idle reaper
//
// When Config.IdleTimeout is positive, Start schedules a sweep every
// Config.IdleSweepInterval that pauses in-progress jobs with no recorded
// activity for longer than the timeout. Any mutation counts as activity, as
// does an explicit TouchJob heartbeat from a viewing session.
//
// # Usage
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	j, _ := eng.CreateJob(ctx, bom)
//	j, _ = eng.StartJob(ctx, j.ID)
package engine
