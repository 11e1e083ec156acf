package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/client"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Mutator performs writes against the server. client.Client and
// client.HTTPClient implement it.
type Mutator interface {
	StartJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
	PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
	StopJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
	CompleteJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
	SetSheetStatus(ctx context.Context, materialID id.MaterialID, index int, status ledger.SheetStatus) (*ledger.Material, error)
	AddRecut(ctx context.Context, materialID id.MaterialID, quantity int) (*ledger.RecutEntry, error)
	SetRecutSheetStatus(ctx context.Context, recutID id.RecutID, index int, status ledger.SheetStatus) (*ledger.RecutEntry, error)
}

// Feed delivers snapshots of one job. client.Watcher implements it.
type Feed interface {
	Run(ctx context.Context, fn func(client.Update) error) error
}

// ActionError is a rejected user action. Its message is meant for the
// person who triggered it; Err keeps the cause.
type ActionError struct {
	Action string
	Target *Target
	Err    error
}

func (e *ActionError) Error() string {
	return e.Message()
}

func (e *ActionError) Unwrap() error { return e.Err }

// Message describes the failure in terms of the action.
func (e *ActionError) Message() string {
	var reason string
	switch {
	case errors.Is(e.Err, cuttrack.ErrJobNotFound):
		reason = "the job no longer exists"
	case cuttrack.IsNotFound(e.Err):
		reason = "the item no longer exists"
	case errors.Is(e.Err, cuttrack.ErrInvalidTransition):
		reason = "the job is not in a state that allows it"
	case errors.Is(e.Err, cuttrack.ErrValidation):
		reason = "the request was invalid"
	case errors.Is(e.Err, cuttrack.ErrConcurrencyConflict):
		reason = "someone else changed the job at the same time, try again"
	case client.IsConnectionError(e.Err):
		reason = "the server could not be reached"
	default:
		reason = "the server reported an error"
	}
	if e.Target != nil {
		return fmt.Sprintf("could not %s %s: %s", e.Action, e.Target, reason)
	}
	return fmt.Sprintf("could not %s: %s", e.Action, reason)
}

// Session is one user's view of a job: an Overlay kept current by a Feed,
// with writes applied optimistically through a Mutator.
type Session struct {
	jobID    id.JobID
	overlay  *Overlay
	mutator  Mutator
	logger   *slog.Logger
	onChange func(*job.Job)

	mu      sync.Mutex
	deleted bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithOnChange registers fn to receive the effective view after every
// change, local or remote. fn receives nil once the job is deleted.
func WithOnChange(fn func(*job.Job)) SessionOption {
	return func(s *Session) { s.onChange = fn }
}

// NewSession opens a session over snapshot.
func NewSession(snapshot *job.Job, m Mutator, opts ...SessionOption) *Session {
	s := &Session{
		jobID:   snapshot.ID,
		overlay: NewOverlay(snapshot),
		mutator: m,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overlay exposes the session's overlay.
func (s *Session) Overlay() *Overlay { return s.overlay }

// View returns the job as the user should see it, or nil once deleted.
func (s *Session) View() *job.Job {
	if s.Deleted() {
		return nil
	}
	return s.overlay.View()
}

// Deleted reports whether the job was deleted while the session was open.
func (s *Session) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Run adopts every snapshot the feed delivers until ctx is done or the job
// is deleted.
func (s *Session) Run(ctx context.Context, feed Feed) error {
	return feed.Run(ctx, func(u client.Update) error {
		if u.Deleted {
			s.markDeleted()
			return nil
		}
		s.Adopt(u.Job)
		return nil
	})
}

// Adopt takes a fresh authoritative snapshot.
func (s *Session) Adopt(snapshot *job.Job) {
	adopted, reset := s.overlay.Adopt(snapshot)
	if reset {
		s.logger.Info("reconcile: job identity changed, cleared pending overlays",
			slog.String("job_id", snapshot.ID.String()),
		)
	}
	if adopted {
		s.notify()
	}
}

// ToggleSheet applies the toggle convention to a material sheet: asking
// for the status it already shows clears it to pending. It returns the
// status that was requested from the server.
func (s *Session) ToggleSheet(ctx context.Context, materialID id.MaterialID, index int, requested ledger.SheetStatus) (ledger.SheetStatus, error) {
	t := MaterialSheet(materialID, index)
	next := ledger.Resolve(s.overlay.Status(t), requested)
	return next, s.SetSheet(ctx, materialID, index, next)
}

// ToggleRecutSheet is ToggleSheet for a recut ledger.
func (s *Session) ToggleRecutSheet(ctx context.Context, recutID id.RecutID, index int, requested ledger.SheetStatus) (ledger.SheetStatus, error) {
	t := RecutSheet(recutID, index)
	next := ledger.Resolve(s.overlay.Status(t), requested)
	return next, s.SetRecutSheet(ctx, recutID, index, next)
}

// SetSheet writes status to a material sheet, showing it immediately and
// rolling it back if the server refuses.
func (s *Session) SetSheet(ctx context.Context, materialID id.MaterialID, index int, status ledger.SheetStatus) error {
	t := MaterialSheet(materialID, index)
	return s.mutate(ctx, "set", t, status, func(ctx context.Context) error {
		m, err := s.mutator.SetSheetStatus(ctx, materialID, index, status)
		if err == nil {
			s.overlay.MergeMaterial(m)
		}
		return err
	})
}

// SetRecutSheet writes status to a recut sheet.
func (s *Session) SetRecutSheet(ctx context.Context, recutID id.RecutID, index int, status ledger.SheetStatus) error {
	t := RecutSheet(recutID, index)
	return s.mutate(ctx, "set", t, status, func(ctx context.Context) error {
		r, err := s.mutator.SetRecutSheetStatus(ctx, recutID, index, status)
		if err == nil {
			s.overlay.MergeRecut(r)
		}
		return err
	})
}

// AddRecut adds quantity sheets to a material's recut entry. It is not
// applied optimistically since the entry may not exist yet.
func (s *Session) AddRecut(ctx context.Context, materialID id.MaterialID, quantity int) (*ledger.RecutEntry, error) {
	if err := s.checkOpen("add recut"); err != nil {
		return nil, err
	}
	r, err := s.mutator.AddRecut(ctx, materialID, quantity)
	if err != nil {
		return nil, s.fail("add recut", nil, err)
	}
	s.overlay.MergeRecut(r)
	s.notify()
	return r, nil
}

// Start starts or resumes the job.
func (s *Session) Start(ctx context.Context) (*job.Job, error) {
	return s.jobAction(ctx, "start the job", s.mutator.StartJob)
}

// Pause pauses the job.
func (s *Session) Pause(ctx context.Context) (*job.Job, error) {
	return s.jobAction(ctx, "pause the job", s.mutator.PauseJob)
}

// Complete marks the job done.
func (s *Session) Complete(ctx context.Context) (*job.Job, error) {
	return s.jobAction(ctx, "complete the job", s.mutator.CompleteJob)
}

// Close ends the session and stops the job's timer if it is running. It
// is what a viewer sends when leaving the job.
func (s *Session) Close(ctx context.Context) error {
	if s.Deleted() {
		return nil
	}
	_, err := s.jobAction(ctx, "stop the job", s.mutator.StopJob)
	if errors.Is(err, cuttrack.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Session) jobAction(ctx context.Context, action string, op func(context.Context, id.JobID) (*job.Job, error)) (*job.Job, error) {
	if err := s.checkOpen(action); err != nil {
		return nil, err
	}
	j, err := op(ctx, s.jobID)
	if err != nil {
		return nil, s.fail(action, nil, err)
	}
	s.Adopt(j)
	return j, nil
}

// mutate runs the optimistic round trip for one sheet write.
func (s *Session) mutate(ctx context.Context, action string, t Target, status ledger.SheetStatus, call func(context.Context) error) error {
	if err := s.checkOpen(action); err != nil {
		return err
	}

	m := s.overlay.Apply(t, status)
	s.notify()

	if err := call(ctx); err != nil {
		restored := s.overlay.Reject(m)
		s.logger.Warn("reconcile: write rejected, rolled back",
			slog.String("target", t.String()),
			slog.String("status", string(status)),
			slog.String("restored", string(restored)),
			slog.String("error", err.Error()),
		)
		s.notify()
		return s.fail(action, &t, err)
	}

	s.overlay.Confirm(m)
	s.notify()
	return nil
}

func (s *Session) checkOpen(action string) error {
	if s.Deleted() {
		return &ActionError{Action: action, Err: cuttrack.ErrJobNotFound}
	}
	return nil
}

func (s *Session) fail(action string, t *Target, err error) error {
	if errors.Is(err, cuttrack.ErrJobNotFound) {
		s.markDeleted()
	}
	return &ActionError{Action: action, Target: t, Err: err}
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	already := s.deleted
	s.deleted = true
	s.mu.Unlock()
	if !already && s.onChange != nil {
		s.onChange(nil)
	}
}

func (s *Session) notify() {
	if s.onChange == nil || s.Deleted() {
		return
	}
	s.onChange(s.overlay.View())
}
