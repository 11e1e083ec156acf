package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/cuttrack/backoff"
	"github.com/xraph/cuttrack/client"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/reconcile"
)

// WatchCmd follows one job until it is deleted or the user interrupts.
type WatchCmd struct {
	RemoteFlags `embed:""`

	Job          string        `arg:"" help:"Job ID"`
	Reconnects   int           `help:"Stream reconnect attempts before falling back to polling" default:"5"`
	PollInterval time.Duration `help:"Polling interval once the stream is gone" default:"5s"`
	Stop         bool          `help:"Stop the job's timer on exit" default:"true" negatable:""`
}

// Run streams updates and prints every change.
func (w *WatchCmd) Run(g *Globals) error {
	jobID, err := id.ParseJobID(w.Job)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc := w.httpClient()
	snap, err := hc.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	opts := []client.WatcherOption{
		client.WithPollInterval(w.PollInterval),
		client.WithWatcherLogger(g.Logger),
	}
	if conn, err := w.dial(ctx, g.Logger); err != nil {
		g.Logger.Warn("event stream unavailable, polling only", slog.String("error", err.Error()))
	} else {
		defer conn.Close()
		opts = append(opts, client.WithStream(conn))
	}

	sess := reconcile.NewSession(snap, hc,
		reconcile.WithLogger(g.Logger),
		reconcile.WithOnChange(func(j *job.Job) {
			if j == nil {
				fmt.Fprintln(os.Stdout, "job deleted")
				return
			}
			printJob(os.Stdout, j, time.Now())
		}),
	)
	printJob(os.Stdout, sess.View(), time.Now())

	err = sess.Run(ctx, client.NewWatcher(jobID, hc, opts...))
	if w.Stop {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			g.Logger.Warn("could not stop job timer", slog.String("error", cerr.Error()))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *WatchCmd) dial(ctx context.Context, logger *slog.Logger) (*client.Client, error) {
	u, err := w.streamURL()
	if err != nil {
		return nil, err
	}
	return client.DialContext(ctx, u,
		client.WithToken(w.Token),
		client.WithLogger(logger),
		client.WithReconnect(w.Reconnects, backoff.DefaultReconnect()),
	)
}
