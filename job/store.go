package job

import (
	"context"
	"errors"

	"github.com/xraph/cuttrack/id"
)

// ErrNoChange may be returned by a MutateFunc to signal that the job is
// already in the requested state. The store discards the write and
// MutateJob returns the current job with a nil error.
var ErrNoChange = errors.New("job: no change")

// MutateFunc applies a change to a loaded job in place. Stores with
// optimistic writes call it again on a freshly loaded job after a lost
// race, so it must not carry state from one call to the next.
type MutateFunc func(j *Job) error

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for job aggregates.
type Store interface {
	// CreateJob persists a new job together with its cutlists and
	// materials.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job aggregate by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// MutateJob loads the job, applies fn and persists the result as one
	// atomic read-modify-write. When fn returns an error other than
	// ErrNoChange nothing is written and the error is returned. Version is
	// incremented on every successful write.
	MutateJob(ctx context.Context, jobID id.JobID, fn MutateFunc) (*Job, error)

	// DeleteJob removes a job and everything it owns.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs ordered by creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// LookupMaterial returns the ID of the job owning a material.
	LookupMaterial(ctx context.Context, materialID id.MaterialID) (id.JobID, error)

	// LookupRecut returns the ID of the job owning a recut entry.
	LookupRecut(ctx context.Context, recutID id.RecutID) (id.JobID, error)
}
