// Package stream provides the real-time change broadcaster. It bridges the
// ext.Extension hooks to connected viewers via topic-based pub/sub.
//
// Every committed mutation produces exactly one event on the job's topic.
// Events carry the aggregate version after the change so that a viewer can
// tell whether a snapshot it already holds is newer. There is no replay:
// a subscriber that falls behind is marked lagged and must refetch.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of change.
type EventType string

const (
	// EventJobUpdated reports a change to job status or timer, including
	// creation.
	EventJobUpdated EventType = "job_updated"
	// EventMaterialUpdated reports a material sheet status change.
	EventMaterialUpdated EventType = "material_updated"
	// EventRecutAdded reports a recut entry created or extended.
	EventRecutAdded EventType = "recut_added"
	// EventRecutUpdated reports a recut sheet status change.
	EventRecutUpdated EventType = "recut_updated"
	// EventJobDeleted reports that a job and everything it owned is gone.
	EventJobDeleted EventType = "job_deleted"

	// EventResync is a control event sent by transports to a subscriber
	// that dropped events. The receiver should refetch its snapshot.
	EventResync EventType = "resync"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type identifies the change.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// JobID is the job the change belongs to.
	JobID string `json:"job_id"`

	// Version is the job aggregate version after the change. Zero for
	// deletions and control events.
	Version int64 `json:"version,omitempty"`

	// Origin is the node that committed the change. Set by the broker
	// when a node ID is configured.
	Origin string `json:"origin,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// JobEventData is the payload of job_updated events.
type JobEventData struct {
	JobID           string     `json:"job_id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	PauseReason     string     `json:"pause_reason,omitempty"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	TimerStartedAt  *time.Time `json:"timer_started_at,omitempty"`
}

// MaterialEventData is the payload of material_updated events.
type MaterialEventData struct {
	JobID           string `json:"job_id"`
	MaterialID      string `json:"material_id"`
	SheetIndex      int    `json:"sheet_index"`
	Status          string `json:"status"`
	CompletedSheets int    `json:"completed_sheets"`
	TotalSheets     int    `json:"total_sheets"`
}

// RecutEventData is the payload of recut_added and recut_updated events.
type RecutEventData struct {
	JobID           string `json:"job_id"`
	MaterialID      string `json:"material_id"`
	RecutID         string `json:"recut_id"`
	Quantity        int    `json:"quantity"`
	Added           int    `json:"added,omitempty"`
	SheetIndex      *int   `json:"sheet_index,omitempty"`
	Status          string `json:"status,omitempty"`
	CompletedSheets int    `json:"completed_sheets"`
}
