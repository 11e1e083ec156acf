package job

import (
	"fmt"
	"time"

	"github.com/xraph/cuttrack"
)

// CanStart reports whether a job in status s may be started.
func CanStart(s Status) bool { return s == StatusWaiting || s == StatusPaused }

// CanPause reports whether a job in status s may be paused.
func CanPause(s Status) bool { return s == StatusInProgress }

// Start moves a waiting or paused job to in_progress and opens a timer
// segment.
func (j *Job) Start(now time.Time) error {
	if !CanStart(j.Status) {
		return fmt.Errorf("%w: cannot start job %s in status %s", cuttrack.ErrInvalidTransition, j.ID, j.Status)
	}
	j.Timer.Start(now)
	j.Status = StatusInProgress
	j.PauseReason = ""
	j.Touch(now)
	return nil
}

// Pause moves an in-progress job to paused and folds the running segment
// into the accumulated total.
func (j *Job) Pause(now time.Time, reason PauseReason) error {
	if !CanPause(j.Status) {
		return fmt.Errorf("%w: cannot pause job %s in status %s", cuttrack.ErrInvalidTransition, j.ID, j.Status)
	}
	j.Timer.Stop(now)
	j.Status = StatusPaused
	if reason == "" {
		reason = PauseManual
	}
	j.PauseReason = reason
	j.Entity.Touch(now)
	if reason != PauseIdle {
		j.LastActivityAt = now.UTC()
	}
	return nil
}

// Complete moves the job to done from any status, folding a running
// segment into the total. It reports false when the job was already done.
func (j *Job) Complete(now time.Time) bool {
	if j.Status == StatusDone {
		return false
	}
	j.Timer.Stop(now)
	j.Status = StatusDone
	j.PauseReason = ""
	at := now.UTC()
	j.CompletedAt = &at
	j.Touch(now)
	return true
}
