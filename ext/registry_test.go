package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobCreated(context.Context, *job.Job) error {
	e.calls = append(e.calls, "OnJobCreated")
	return nil
}

func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobPaused(context.Context, *job.Job, job.PauseReason) error {
	e.calls = append(e.calls, "OnJobPaused")
	return nil
}

func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobDeleted(context.Context, id.JobID) error {
	e.calls = append(e.calls, "OnJobDeleted")
	return nil
}

func (e *allHooksExt) OnSheetStatusChanged(context.Context, *job.Job, *ledger.Material, int, ledger.SheetStatus) error {
	e.calls = append(e.calls, "OnSheetStatusChanged")
	return nil
}

func (e *allHooksExt) OnRecutAdded(context.Context, *job.Job, *ledger.RecutEntry, int) error {
	e.calls = append(e.calls, "OnRecutAdded")
	return nil
}

func (e *allHooksExt) OnRecutSheetStatusChanged(context.Context, *job.Job, *ledger.RecutEntry, int, ledger.SheetStatus) error {
	e.calls = append(e.calls, "OnRecutSheetStatusChanged")
	return nil
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// startOnlyExt implements only JobStarted.
type startOnlyExt struct {
	started int
}

func (e *startOnlyExt) Name() string { return "start-only" }

func (e *startOnlyExt) OnJobStarted(context.Context, *job.Job) error {
	e.started++
	return nil
}

// failingExt returns an error from every hook it implements.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobCreated(context.Context, *job.Job) error {
	return errors.New("boom")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}
	m := &ledger.Material{ID: id.NewMaterialID(), TotalSheets: 1, Sheets: ledger.NewSheets(1)}
	re := &ledger.RecutEntry{ID: id.NewRecutID(), Quantity: 1, Sheets: ledger.NewSheets(1)}

	r.EmitJobCreated(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobPaused(ctx, j, job.PauseManual)
	r.EmitJobCompleted(ctx, j, time.Minute)
	r.EmitSheetStatusChanged(ctx, j, m, 0, ledger.StatusCut)
	r.EmitRecutAdded(ctx, j, re, 1)
	r.EmitRecutSheetStatusChanged(ctx, j, re, 0, ledger.StatusSkip)
	r.EmitJobDeleted(ctx, j.ID)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobCreated", "OnJobStarted", "OnJobPaused", "OnJobCompleted",
		"OnSheetStatusChanged", "OnRecutAdded", "OnRecutSheetStatusChanged",
		"OnJobDeleted", "OnShutdown",
	}
	if !reflect.DeepEqual(all.calls, want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	only := &startOnlyExt{}
	r.Register(only)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}
	r.EmitJobCreated(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobPaused(ctx, j, job.PauseIdle)

	if only.started != 1 {
		t.Fatalf("expected 1 OnJobStarted call, got %d", only.started)
	}
	if len(r.Extensions()) != 1 {
		t.Fatalf("expected 1 extension, got %d", len(r.Extensions()))
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	all := &allHooksExt{}

	r.Register(&failingExt{})
	r.Register(all)

	r.EmitJobCreated(context.Background(), &job.Job{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobCreated" {
		t.Fatalf("expected [OnJobCreated] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	r.EmitJobCreated(ctx, &job.Job{})
	r.EmitJobDeleted(ctx, id.Nil)
	r.EmitShutdown(ctx)
}

func TestRegistry_OrderPreserved(t *testing.T) {
	r := ext.NewRegistry(testLogger())
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		r.Register(&orderExt{name: name, order: &order})
	}
	r.EmitJobStarted(context.Background(), &job.Job{})

	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("order = %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnJobStarted(context.Context, *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
