package middleware

import (
	"context"

	"github.com/xraph/cuttrack/id"
)

// Op describes one engine operation passing through the chain.
type Op struct {
	// Name is the operation name, e.g. "job.start" or "sheet.set".
	Name string
	// JobID is the job the operation is serialized on.
	JobID id.JobID
	// Target is the material or recut the operation addresses, if any.
	Target id.ID
}

// Handler is the terminal function that performs the operation.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the operation, and the next handler to call.
// Middleware MUST call next to continue the chain unless it is
// short-circuiting with an error.
type Middleware func(ctx context.Context, op *Op, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover) executes as:
//
//	logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, op *Op, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, op, prev)
			}
		}
		return h(ctx)
	}
}
