package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/stream"
)

// DefaultPollInterval is how often a Watcher polls once it runs without an
// event stream.
const DefaultPollInterval = 5 * time.Second

// Snapshotter fetches the current snapshot of a job. Client and HTTPClient
// both implement it.
type Snapshotter interface {
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// Mode is how a Watcher currently learns about changes.
type Mode string

const (
	// ModeStreaming means changes arrive as pushed events.
	ModeStreaming Mode = "streaming"
	// ModePolling means the stream is gone and snapshots are polled.
	ModePolling Mode = "polling"
)

// Update is one observation of a watched job.
type Update struct {
	// Job is the latest snapshot. It is nil when Deleted is set.
	Job     *job.Job
	Deleted bool
	Mode    Mode
}

// Watcher follows a single job. It refetches the snapshot whenever the
// event stream reports a change or a resync, and switches to polling for
// good once the stream is lost.
type Watcher struct {
	jobID    id.JobID
	source   Snapshotter
	stream   *Client
	interval time.Duration
	logger   *slog.Logger
	clock    clockwork.Clock

	last *job.Job
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithStream pushes changes from c. Without it the watcher only polls.
func WithStream(c *Client) WatcherOption {
	return func(w *Watcher) { w.stream = c }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithWatcherClock sets the clock that paces polling.
func WithWatcherClock(c clockwork.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// NewWatcher creates a watcher for jobID that reads snapshots from source.
func NewWatcher(jobID id.JobID, source Snapshotter, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		jobID:    jobID,
		source:   source,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run calls fn with the current snapshot and then with every newer one
// until ctx is done, the job is deleted, or fn returns an error. A deleted
// job is reported once with Deleted set and Run returns nil.
func (w *Watcher) Run(ctx context.Context, fn func(Update) error) error {
	if w.stream != nil {
		done, err := w.runStream(ctx, fn)
		if done || err != nil {
			return err
		}
		w.logger.Warn("cuttrack/client: event stream lost, falling back to polling",
			slog.String("job_id", w.jobID.String()),
			slog.Duration("interval", w.interval),
		)
	}
	return w.runPoll(ctx, fn)
}

// runStream returns done when Run should end, or false with a nil error
// when the stream went away and polling should take over.
func (w *Watcher) runStream(ctx context.Context, fn func(Update) error) (bool, error) {
	events, err := w.stream.WatchJob(ctx, w.jobID)
	if err != nil {
		if cuttrack.IsNotFound(err) {
			return true, err
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		w.logger.Warn("cuttrack/client: subscribe failed",
			slog.String("job_id", w.jobID.String()),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	defer func() {
		if !w.stream.closed.Load() {
			_ = w.stream.Unsubscribe(context.WithoutCancel(ctx), stream.JobTopic(w.jobID.String()))
		}
	}()

	// Subscribed first, so nothing between this fetch and the first event
	// is missed.
	if done, err := w.refresh(ctx, ModeStreaming, fn); done {
		return true, err
	} else if err != nil {
		w.logFetch(err)
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return false, nil
			}
			if evt.Type == stream.EventJobDeleted {
				return true, fn(Update{Deleted: true, Mode: ModeStreaming})
			}
			if evt.Type != stream.EventResync && w.last != nil && evt.Version != 0 && evt.Version <= w.last.Version {
				continue
			}
			done, err := w.refresh(ctx, ModeStreaming, fn)
			if done {
				return true, err
			}
			if err != nil {
				w.logFetch(err)
				if IsConnectionError(err) {
					return false, nil
				}
			}
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context, fn func(Update) error) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		done, err := w.refresh(ctx, ModePolling, fn)
		if done {
			return err
		}
		if err != nil {
			w.logFetch(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// refresh fetches a snapshot and hands it to fn when it is newer than the
// last one delivered. done is set when Run should end.
func (w *Watcher) refresh(ctx context.Context, mode Mode, fn func(Update) error) (bool, error) {
	j, err := w.source.GetJob(ctx, w.jobID)
	switch {
	case err == nil:
	case errors.Is(err, cuttrack.ErrNotFound):
		return true, fn(Update{Deleted: true, Mode: mode})
	case ctx.Err() != nil:
		return true, ctx.Err()
	default:
		return false, fmt.Errorf("fetch job %s: %w", w.jobID, err)
	}

	if w.last != nil && j.Version <= w.last.Version {
		return false, nil
	}
	w.last = j
	if err := fn(Update{Job: j, Mode: mode}); err != nil {
		return true, err
	}
	return false, nil
}

func (w *Watcher) logFetch(err error) {
	w.logger.Warn("cuttrack/client: snapshot fetch failed",
		slog.String("job_id", w.jobID.String()),
		slog.String("error", err.Error()),
	)
}
