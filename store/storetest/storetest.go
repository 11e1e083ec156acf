// Package storetest holds the behaviour every store.Store backend must
// share. Backend packages call [Run] from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
	"github.com/xraph/cuttrack/store"
)

// OpenFunc returns an empty, migrated store. It is called once per subtest.
type OpenFunc func(t *testing.T) store.Store

// base is truncated to whole seconds so every backend stores it exactly.
var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// Run exercises the job.Store contract against open.
func Run(t *testing.T, open OpenFunc) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"RoundTripsTimerAndLedger", testRoundTrip},
		{"MutateJob", testMutateJob},
		{"MutateJobIndexesNewRecuts", testMutateIndexesRecuts},
		{"MutateJobUnknown", testMutateUnknown},
		{"DeleteJobCascades", testDeleteCascades},
		{"ListJobs", testListJobs},
		{"MutateJobConcurrent", testMutateConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			tt.fn(t, s)
		})
	}
}

// NewJob builds a job with one cutlist holding one material per entry of
// sheets.
func NewJob(t *testing.T, name string, created time.Time, sheets ...int) *job.Job {
	t.Helper()
	if len(sheets) == 0 {
		sheets = []int{2}
	}
	mats := make([]job.MaterialSpec, len(sheets))
	for i, n := range sheets {
		mats[i] = job.MaterialSpec{Name: "Birch", TotalSheets: n}
	}
	j, err := job.New(job.BillOfMaterials{
		Name:     name,
		Cutlists: []job.CutlistSpec{{Name: "Main", Materials: mats}},
	}, created)
	require.NoError(t, err)
	return j
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "a", base, 2, 3)

	require.NoError(t, s.CreateJob(ctx, j))
	assert.ErrorIs(t, s.CreateJob(ctx, j), cuttrack.ErrJobAlreadyExists)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, job.StatusWaiting, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Materials(), 2)
	assert.Equal(t, j.Materials()[0].ID, got.Materials()[0].ID)
	assert.Equal(t, 3, got.Materials()[1].Sheets.Cap())

	// Returned copies must not alias stored state.
	got.Name = "changed"
	again, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Name)

	_, err = s.GetJob(ctx, id.NewJobID())
	assert.ErrorIs(t, err, cuttrack.ErrJobNotFound)
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "timer", base, 3)
	require.NoError(t, s.CreateJob(ctx, j))
	matID := j.Materials()[0].ID

	started := base.Add(time.Minute)
	_, err := s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		if err := j.Start(started); err != nil {
			return err
		}
		_, err := j.Material(matID).SetSheet(2, ledger.StatusSkip)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, got.Status)
	require.NotNil(t, got.Timer.StartedAt)
	assert.True(t, got.Timer.StartedAt.Equal(started))
	assert.Equal(t, ledger.StatusSkip, got.Material(matID).Sheets.At(2))
	assert.Equal(t, ledger.StatusPending, got.Material(matID).Sheets.At(0))

	done := started.Add(90 * time.Second)
	_, err = s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		j.Complete(done)
		return nil
	})
	require.NoError(t, err)

	got, err = s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDone, got.Status)
	assert.Nil(t, got.Timer.StartedAt)
	assert.Equal(t, 90*time.Second, got.Timer.Total)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
}

func testMutateJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "a", base)
	require.NoError(t, s.CreateJob(ctx, j))
	matID := j.Materials()[0].ID

	got, err := s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		_, err := j.Material(matID).SetSheet(1, ledger.StatusCut)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, j.Version+1, got.Version)
	assert.Equal(t, 1, got.Material(matID).CompletedSheets())

	// A failing mutation leaves the stored job untouched.
	boom := errors.New("boom")
	_, err = s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		j.Name = "lost"
		return boom
	})
	require.ErrorIs(t, err, boom)

	// ErrNoChange returns the current job without bumping the version.
	same, err := s.MutateJob(ctx, j.ID, func(*job.Job) error { return job.ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, got.Version, same.Version)
	assert.Equal(t, "a", same.Name)

	stored, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, stored.Version)
	assert.Equal(t, 1, stored.Material(matID).CompletedSheets())
}

func testMutateIndexesRecuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "a", base)
	require.NoError(t, s.CreateJob(ctx, j))
	matID := j.Materials()[0].ID
	recutID := id.NewRecutID()

	_, err := s.LookupRecut(ctx, recutID)
	require.ErrorIs(t, err, cuttrack.ErrRecutNotFound)

	_, err = s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		_, err := j.Material(matID).AddRecut(recutID, 2)
		return err
	})
	require.NoError(t, err)

	owner, err := s.LookupRecut(ctx, recutID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, owner)

	owner, err = s.LookupMaterial(ctx, matID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, owner)

	// Extending the recut keeps its ID and earlier statuses.
	_, err = s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		if _, err := j.Material(matID).Recut.SetSheet(0, ledger.StatusCut); err != nil {
			return err
		}
		_, err := j.Material(matID).AddRecut(id.NewRecutID(), 1)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	r, m := got.Recut(recutID)
	require.NotNil(t, r)
	assert.Equal(t, matID, m.ID)
	assert.Equal(t, 3, r.Quantity)
	assert.Equal(t, 1, r.CompletedSheets())
}

func testMutateUnknown(t *testing.T, s store.Store) {
	_, err := s.MutateJob(context.Background(), id.NewJobID(), func(*job.Job) error { return nil })
	assert.ErrorIs(t, err, cuttrack.ErrJobNotFound)

	_, err = s.LookupMaterial(context.Background(), id.NewMaterialID())
	assert.ErrorIs(t, err, cuttrack.ErrMaterialNotFound)
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "a", base)
	require.NoError(t, s.CreateJob(ctx, j))
	matID := j.Materials()[0].ID
	recutID := id.NewRecutID()
	_, err := s.MutateJob(ctx, j.ID, func(j *job.Job) error {
		_, err := j.Material(matID).AddRecut(recutID, 1)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteJob(ctx, j.ID))

	_, err = s.GetJob(ctx, j.ID)
	assert.True(t, cuttrack.IsNotFound(err))
	_, err = s.LookupMaterial(ctx, matID)
	assert.ErrorIs(t, err, cuttrack.ErrMaterialNotFound)
	_, err = s.LookupRecut(ctx, recutID)
	assert.ErrorIs(t, err, cuttrack.ErrRecutNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, j.ID), cuttrack.ErrJobNotFound)
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()

	var ids []id.JobID
	for i := range 4 {
		created := base.Add(time.Duration(i) * time.Minute)
		j := NewJob(t, "j", created)
		if i%2 == 0 {
			require.NoError(t, j.Start(created))
		}
		require.NoError(t, s.CreateJob(ctx, j))
		ids = append(ids, j.ID)
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[0], all[0].ID)
	assert.Equal(t, ids[3], all[3].ID)
	assert.Len(t, all[0].Materials(), 1)

	running, err := s.ListJobs(ctx, job.ListOpts{Status: job.StatusInProgress})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	page, err := s.ListJobs(ctx, job.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
}

func testMutateConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob(t, "a", base)
	require.NoError(t, s.CreateJob(ctx, j))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MutateJob(ctx, j.ID, func(j *job.Job) error {
				j.Timer.Total += time.Second
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, n*time.Second, got.Timer.Total, "lost updates")
	assert.Equal(t, j.Version+n, got.Version)
}
