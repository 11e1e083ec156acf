package cuttrack

import "time"

// Entity carries the timestamps shared by every persisted record.
type Entity struct {
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// NewEntity returns an Entity created at now, truncated to the
// microsecond precision every store can hold.
func NewEntity(now time.Time) Entity {
	now = now.UTC().Truncate(time.Microsecond)
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch advances UpdatedAt to t.
func (e *Entity) Touch(t time.Time) { e.UpdatedAt = t.UTC() }
