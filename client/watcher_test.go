package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/cuttrack/client"
	"github.com/xraph/cuttrack/ledger"
)

type watchRun struct {
	updates chan client.Update
	done    chan error
	cancel  context.CancelFunc
}

func startWatcher(t *testing.T, w *client.Watcher) *watchRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	run := &watchRun{
		updates: make(chan client.Update, 16),
		done:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() {
		run.done <- w.Run(ctx, func(u client.Update) error {
			run.updates <- u
			return nil
		})
	}()
	t.Cleanup(cancel)
	return run
}

func (r *watchRun) next(t *testing.T) client.Update {
	t.Helper()
	select {
	case u := <-r.updates:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return client.Update{}
}

func (r *watchRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not return")
	}
	return nil
}

func TestWatcher_PollOnly(t *testing.T) {
	f := setupServer(t)
	hc := client.NewHTTPClient(f.ts.URL)
	ctx := testCtx(t)

	j, err := f.eng.CreateJob(ctx, testBOM())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	run := startWatcher(t, client.NewWatcher(j.ID, hc,
		client.WithPollInterval(10*time.Millisecond),
		client.WithWatcherLogger(testLogger()),
	))

	u := run.next(t)
	if u.Mode != client.ModePolling || u.Job.Version != j.Version {
		t.Errorf("first update = %s v%d, want polling v%d", u.Mode, u.Job.Version, j.Version)
	}

	if _, err := f.eng.StartJob(ctx, j.ID); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	u = run.next(t)
	if u.Job.Version != j.Version+1 {
		t.Errorf("version = %d, want %d", u.Job.Version, j.Version+1)
	}

	if err := f.eng.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	u = run.next(t)
	if !u.Deleted || u.Job != nil {
		t.Errorf("expected deleted update, got %+v", u)
	}
	if err := run.wait(t); err != nil {
		t.Errorf("Run = %v, want nil after delete", err)
	}
}

func TestWatcher_StreamsThenFallsBackToPolling(t *testing.T) {
	f := setupServer(t)
	c := f.dial(t)
	hc := client.NewHTTPClient(f.ts.URL)
	ctx := testCtx(t)

	j, err := f.eng.CreateJob(ctx, testBOM())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	run := startWatcher(t, client.NewWatcher(j.ID, hc,
		client.WithStream(c),
		client.WithPollInterval(10*time.Millisecond),
		client.WithWatcherLogger(testLogger()),
	))

	u := run.next(t)
	if u.Mode != client.ModeStreaming {
		t.Fatalf("first update mode = %s, want streaming", u.Mode)
	}

	matID := j.Cutlists[0].Materials[0].ID
	if _, err := f.eng.SetSheetStatus(ctx, matID, 0, ledger.StatusCut); err != nil {
		t.Fatalf("SetSheetStatus: %v", err)
	}
	u = run.next(t)
	if u.Mode != client.ModeStreaming || u.Job.Material(matID).Sheets.At(0) != ledger.StatusCut {
		t.Errorf("streamed update = %s %+v", u.Mode, u.Job.Material(matID))
	}

	// Without reconnect the stream is gone for good.
	f.listener.dropAll()

	if _, err := f.eng.StartJob(ctx, j.ID); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	u = run.next(t)
	if u.Mode != client.ModePolling {
		t.Errorf("update after loss mode = %s, want polling", u.Mode)
	}
	if u.Job.Version != j.Version+2 {
		t.Errorf("version = %d, want %d", u.Job.Version, j.Version+2)
	}
}

func TestWatcher_IgnoresStaleSnapshots(t *testing.T) {
	f := setupServer(t)
	hc := client.NewHTTPClient(f.ts.URL)
	ctx := testCtx(t)

	j, err := f.eng.CreateJob(ctx, testBOM())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	run := startWatcher(t, client.NewWatcher(j.ID, hc, client.WithPollInterval(5*time.Millisecond)))
	_ = run.next(t)

	// Many polls with nothing new must not produce updates.
	select {
	case u := <-run.updates:
		t.Fatalf("unexpected update v%d", u.Job.Version)
	case <-time.After(60 * time.Millisecond):
	}
	run.cancel()
	if err := run.wait(t); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
