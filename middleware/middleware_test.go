package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/middleware"
)

func newTestOp() *middleware.Op {
	return &middleware.Op{
		Name:   "sheet.set",
		JobID:  id.NewJobID(),
		Target: id.NewMaterialID(),
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.Op, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *middleware.Op, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestOp(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), newTestOp(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	deny := errors.New("denied")
	guard := func(_ context.Context, _ *middleware.Op, _ middleware.Handler) error {
		return deny
	}
	called := false
	err := middleware.Chain(guard)(context.Background(), newTestOp(), func(_ context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, deny) {
		t.Fatalf("expected %v, got %v", deny, err)
	}
	if called {
		t.Fatal("handler should not run after short circuit")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *middleware.Op, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(pass)(context.Background(), newTestOp(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	op := &middleware.Op{Name: "job.start", JobID: id.NewJobID()}

	err := mw(context.Background(), op, func(_ context.Context) error {
		panic("test panic")
	})
	if !errors.Is(err, middleware.ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
	if got := err.Error(); got != "operation panicked: job.start: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestOp(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_PassesErrorsThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())

	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"rejection", cuttrack.ErrInvalidTransition},
		{"not found", cuttrack.ErrJobNotFound},
		{"failure", errors.New("disk on fire")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mw(context.Background(), newTestOp(), func(_ context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	mw := middleware.Timeout(time.Minute)

	err := mw(context.Background(), newTestOp(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline on context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_ZeroDisables(t *testing.T) {
	mw := middleware.Timeout(0)

	err := mw(context.Background(), newTestOp(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
