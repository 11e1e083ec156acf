package job

import "time"

// Timer accumulates elapsed work time across start/stop segments. Only
// Total survives between segments; the running segment is derived from
// StartedAt.
type Timer struct {
	Total     time.Duration `json:"total_duration" msgpack:"total_duration"`
	StartedAt *time.Time    `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
}

// Running reports whether a segment is open.
func (t Timer) Running() bool { return t.StartedAt != nil }

// Elapsed returns the length of the open segment at now, or zero when the
// timer is stopped. A clock that moved backwards yields zero.
func (t Timer) Elapsed(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	d := now.Sub(*t.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Live returns the total including the open segment.
func (t Timer) Live(now time.Time) time.Duration {
	return t.Total + t.Elapsed(now)
}

// Start opens a segment at now. It reports false and does nothing when a
// segment is already open.
func (t *Timer) Start(now time.Time) bool {
	if t.StartedAt != nil {
		return false
	}
	at := now.UTC()
	t.StartedAt = &at
	return true
}

// Stop folds the open segment into Total. It reports false and does
// nothing when no segment is open.
func (t *Timer) Stop(now time.Time) bool {
	if t.StartedAt == nil {
		return false
	}
	t.Total += t.Elapsed(now)
	t.StartedAt = nil
	return true
}

func (t Timer) clone() Timer {
	if t.StartedAt == nil {
		return t
	}
	at := *t.StartedAt
	return Timer{Total: t.Total, StartedAt: &at}
}
