package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cuttrack/job"
	mw "github.com/xraph/cuttrack/middleware"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 1m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// sweepPageSize bounds how many running jobs one sweep loads per page.
const sweepPageSize = 200

func (eng *Engine) startReaper() error {
	expr := eng.idleSchedule
	if expr == "" {
		interval := eng.config.IdleSweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		expr = "@every " + interval.String()
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse idle schedule %q: %w", expr, err)
	}

	logger := cronLogger{eng.logger}
	eng.reaper = cronlib.New(
		cronlib.WithLogger(logger),
		cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
	)
	eng.reaper.Schedule(sched, cronlib.FuncJob(func() {
		if _, err := eng.Sweep(context.Background()); err != nil {
			eng.logger.Warn("idle sweep failed", slog.String("error", err.Error()))
		}
	}))
	eng.reaper.Start()
	eng.logger.Info("idle reaper started",
		slog.String("schedule", expr),
		slog.Duration("idle_timeout", eng.config.IdleTimeout),
	)
	return nil
}

func (eng *Engine) stopReaper(ctx context.Context) {
	if eng.reaper == nil {
		return
	}
	done := eng.reaper.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	eng.reaper = nil
}

// Sweep pauses every in_progress job whose last activity is older than
// Config.IdleTimeout, recording PauseIdle. It returns the number of jobs
// paused. The timer segment is closed at the moment of the sweep.
func (eng *Engine) Sweep(ctx context.Context) (int, error) {
	timeout := eng.config.IdleTimeout
	if timeout <= 0 {
		return 0, nil
	}

	var idle []*job.Job
	for offset := 0; ; offset += sweepPageSize {
		page, err := eng.store.ListJobs(ctx, job.ListOpts{
			Status: job.StatusInProgress,
			Limit:  sweepPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("list running jobs: %w", err)
		}
		for _, j := range page {
			if eng.clock.Since(j.LastActivityAt) >= timeout {
				idle = append(idle, j)
			}
		}
		if len(page) < sweepPageSize {
			break
		}
	}

	paused := 0
	for _, candidate := range idle {
		ok, err := eng.pauseIdle(ctx, candidate)
		if err != nil {
			eng.logger.Warn("idle pause failed",
				slog.String("job_id", candidate.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			paused++
		}
	}
	if paused > 0 {
		eng.logger.Info("paused idle jobs", slog.Int("count", paused))
	}
	return paused, nil
}

// pauseIdle re-checks idleness under the job lock, since activity may have
// landed between listing and locking.
func (eng *Engine) pauseIdle(ctx context.Context, candidate *job.Job) (bool, error) {
	var paused bool
	err := eng.run(ctx, &mw.Op{Name: "job.idle", JobID: candidate.ID}, func(ctx context.Context) error {
		j, err := eng.store.MutateJob(ctx, candidate.ID, func(j *job.Job) error {
			paused = false
			if j.Status != job.StatusInProgress || eng.clock.Since(j.LastActivityAt) < eng.config.IdleTimeout {
				return job.ErrNoChange
			}
			if err := j.Pause(eng.clock.Now(), job.PauseIdle); err != nil {
				return err
			}
			paused = true
			return nil
		})
		if err != nil {
			return err
		}
		if paused {
			eng.extensions.EmitJobPaused(ctx, j, job.PauseIdle)
		}
		return nil
	})
	return paused, err
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("reaper: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("reaper: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
