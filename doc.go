// Package cuttrack tracks execution of manufacturing jobs made of cuttable
// sheet materials: per-sheet completion, elapsed work time and the job
// lifecycle.
//
// Many operators view and update the same job at once. Every mutation is
// serialized per job by the engine, persisted through a pluggable store,
// and fanned out as a typed change event so that each viewer can reconcile
// its optimistic local state against the authoritative snapshot.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithLogger(logger),
//	)
//	j, err := eng.CreateJob(ctx, job.BillOfMaterials{Name: "Kitchen"})
//	j, err = eng.StartJob(ctx, j.ID)
//
// # Architecture
//
// The ledger package holds per-sheet status arenas. The job package holds
// the lifecycle state machine and the elapsed-time accumulator. The engine
// package serializes mutations and publishes events through the stream
// broker. The reconcile package runs on the client and merges optimistic
// overlays with authoritative snapshots.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package cuttrack
