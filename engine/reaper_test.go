package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/engine"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

func idleConfig() cuttrack.Config {
	cfg := cuttrack.DefaultConfig()
	cfg.IdleTimeout = 10 * time.Minute
	return cfg
}

func TestSweepPausesIdleJobs(t *testing.T) {
	f := newFixture(t, engine.WithConfig(idleConfig()))
	ctx := context.Background()

	idle := f.createJob(t, 2)
	busy := f.createJob(t, 2)
	waiting := f.createJob(t, 1)
	for _, j := range []*job.Job{idle, busy} {
		_, err := f.eng.StartJob(ctx, j.ID)
		require.NoError(t, err)
	}

	f.clock.Advance(8 * time.Minute)
	_, err := f.eng.SetSheetStatus(ctx, busy.Materials()[0].ID, 0, ledger.StatusCut)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)

	n, err := f.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.eng.GetJob(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPaused, got.Status)
	assert.Equal(t, job.PauseIdle, got.PauseReason)
	assert.Equal(t, 11*time.Minute, got.Timer.Total)

	got, err = f.eng.GetJob(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, got.Status)

	got, err = f.eng.GetJob(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusWaiting, got.Status)
}

func TestTouchKeepsJobAlive(t *testing.T) {
	f := newFixture(t, engine.WithConfig(idleConfig()))
	ctx := context.Background()
	j := f.createJob(t, 1)
	_, err := f.eng.StartJob(ctx, j.ID)
	require.NoError(t, err)

	for range 3 {
		f.clock.Advance(6 * time.Minute)
		_, err := f.eng.TouchJob(ctx, j.ID)
		require.NoError(t, err)
		n, err := f.eng.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestTouchIgnoresStoppedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.createJob(t, 1)

	got, err := f.eng.TouchJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Version, got.Version)
}

func TestSweepDisabledWithoutTimeout(t *testing.T) {
	cfg := cuttrack.DefaultConfig()
	cfg.IdleTimeout = 0
	f := newFixture(t, engine.WithConfig(cfg))
	ctx := context.Background()
	j := f.createJob(t, 1)
	_, err := f.eng.StartJob(ctx, j.ID)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	n, err := f.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartSchedulesReaper(t *testing.T) {
	f := newFixture(t, engine.WithConfig(idleConfig()), engine.WithIdleSchedule("@every 1h"))
	ctx := context.Background()
	require.NoError(t, f.eng.Start(ctx))
	require.NoError(t, f.eng.Stop(ctx))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, engine.WithConfig(idleConfig()), engine.WithIdleSchedule("every hour"))
	assert.Error(t, f.eng.Start(context.Background()))
}
