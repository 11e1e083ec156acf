package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/cuttrack/id"
)

// locker is a keyed mutex with one weighted semaphore per job. Entries are
// reference counted and removed when the last holder or waiter leaves, so
// deleted and idle jobs do not accumulate.
type locker struct {
	mu    sync.Mutex
	locks map[id.JobID]*jobLock
}

type jobLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[id.JobID]*jobLock)}
}

// acquire blocks until the job's lock is held or ctx is done. The returned
// release func must be called exactly once.
func (l *locker) acquire(ctx context.Context, jobID id.JobID) (func(), error) {
	l.mu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{sem: semaphore.NewWeighted(1)}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.mu.Unlock()

	if err := jl.sem.Acquire(ctx, 1); err != nil {
		l.unref(jobID, jl)
		return nil, err
	}

	return func() {
		jl.sem.Release(1)
		l.unref(jobID, jl)
	}, nil
}

func (l *locker) unref(jobID id.JobID, jl *jobLock) {
	l.mu.Lock()
	jl.refs--
	if jl.refs == 0 {
		delete(l.locks, jobID)
	}
	l.mu.Unlock()
}

// size returns the number of jobs with a live lock entry.
func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
