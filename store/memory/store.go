package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing, development and
// single-process deployments.
type Store struct {
	mu sync.RWMutex

	jobs map[id.JobID]*job.Job

	// Ownership indexes for resolving sheet targets to their job.
	materials map[id.MaterialID]id.JobID
	recuts    map[id.RecutID]id.JobID

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[id.JobID]*job.Job),
		materials: make(map[id.MaterialID]id.JobID),
		recuts:    make(map[id.RecutID]id.JobID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return cuttrack.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job aggregate.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return cuttrack.ErrJobAlreadyExists
	}
	cp := j.Clone()
	m.jobs[j.ID] = cp
	m.index(cp)
	return nil
}

// GetJob returns a copy of the job aggregate.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, cuttrack.ErrJobNotFound
	}
	return j.Clone(), nil
}

// MutateJob applies fn to a copy of the job under the store lock and
// swaps it in when fn succeeds.
func (m *Store) MutateJob(_ context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[jobID]
	if !ok {
		return nil, cuttrack.ErrJobNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, job.ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.Version = cur.Version + 1
	m.jobs[jobID] = next
	m.index(next)
	return next.Clone(), nil
}

// DeleteJob removes the job and its ownership index entries.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return cuttrack.ErrJobNotFound
	}
	for _, mat := range j.Materials() {
		delete(m.materials, mat.ID)
		if mat.Recut != nil {
			delete(m.recuts, mat.Recut.ID)
		}
	}
	delete(m.jobs, jobID)
	return nil
}

// ListJobs returns jobs ordered by creation time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		result = append(result, j)
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID.String() < result[k].ID.String()
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)

	out := make([]*job.Job, len(result))
	for i, j := range result {
		out[i] = j.Clone()
	}
	return out, nil
}

// LookupMaterial returns the job owning a material.
func (m *Store) LookupMaterial(_ context.Context, materialID id.MaterialID) (id.JobID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.materials[materialID]
	if !ok {
		return id.Nil, cuttrack.ErrMaterialNotFound
	}
	return jobID, nil
}

// LookupRecut returns the job owning a recut entry.
func (m *Store) LookupRecut(_ context.Context, recutID id.RecutID) (id.JobID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.recuts[recutID]
	if !ok {
		return id.Nil, cuttrack.ErrRecutNotFound
	}
	return jobID, nil
}

// index must be called with mu held.
func (m *Store) index(j *job.Job) {
	for _, mat := range j.Materials() {
		m.materials[mat.ID] = j.ID
		if mat.Recut != nil {
			m.recuts[mat.Recut.ID] = j.ID
		}
	}
}

func applyPagination[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
