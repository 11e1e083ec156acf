package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/ledger"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusWaiting means work has not started yet.
	StatusWaiting Status = "waiting"
	// StatusInProgress means an operator is working and the timer runs.
	StatusInProgress Status = "in_progress"
	// StatusPaused means work is suspended and the timer is stopped.
	StatusPaused Status = "paused"
	// StatusDone means the job is finished. It is terminal.
	StatusDone Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusPaused, StatusDone:
		return true
	default:
		return false
	}
}

// PauseReason records why a job was paused.
type PauseReason string

const (
	// PauseManual is an operator pressing pause.
	PauseManual PauseReason = "manual"
	// PauseStop is a viewing session ending with an explicit stop.
	PauseStop PauseReason = "stop"
	// PauseIdle is the reaper pausing a job nobody touched within the
	// idle timeout.
	PauseIdle PauseReason = "idle"
)

// Job is a manufacturing job: a set of cutlists whose sheets are cut while
// the job is in progress.
type Job struct {
	cuttrack.Entity

	ID             id.JobID          `json:"id" msgpack:"id"`
	Name           string            `json:"name" msgpack:"name"`
	Status         Status            `json:"status" msgpack:"status"`
	Timer          Timer             `json:"timer" msgpack:"timer"`
	PauseReason    PauseReason       `json:"pause_reason,omitempty" msgpack:"pause_reason,omitempty"`
	Cutlists       []*ledger.Cutlist `json:"cutlists" msgpack:"cutlists"`
	LastActivityAt time.Time         `json:"last_activity_at" msgpack:"last_activity_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`

	// Version increases by one with every persisted change. Clients use
	// it to drop snapshots older than the one they hold.
	Version int64 `json:"version" msgpack:"version"`
}

// BillOfMaterials describes the cutlists and materials of a new job.
type BillOfMaterials struct {
	Name     string        `json:"name" msgpack:"name" yaml:"name"`
	Cutlists []CutlistSpec `json:"cutlists" msgpack:"cutlists" yaml:"cutlists"`
}

// CutlistSpec is one cutlist of a BillOfMaterials.
type CutlistSpec struct {
	Name      string         `json:"name" msgpack:"name" yaml:"name"`
	Materials []MaterialSpec `json:"materials" msgpack:"materials" yaml:"materials"`
}

// MaterialSpec is one material line of a CutlistSpec.
type MaterialSpec struct {
	Name        string `json:"name" msgpack:"name" yaml:"name"`
	TotalSheets int    `json:"total_sheets" msgpack:"total_sheets" yaml:"total_sheets"`
}

// New builds a waiting job from a bill of materials. Every sheet starts
// pending and the timer starts at zero.
func New(bom BillOfMaterials, now time.Time) (*Job, error) {
	name := strings.TrimSpace(bom.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: job name is required", cuttrack.ErrValidation)
	}

	now = now.UTC()
	j := &Job{
		Entity:         cuttrack.NewEntity(now),
		ID:             id.NewJobID(),
		Name:           name,
		Status:         StatusWaiting,
		LastActivityAt: now,
		Version:        1,
	}

	for pos, cs := range bom.Cutlists {
		cl := &ledger.Cutlist{
			ID:       id.NewCutlistID(),
			JobID:    j.ID,
			Name:     cs.Name,
			Position: pos,
		}
		for _, ms := range cs.Materials {
			m, err := ledger.NewMaterial(cl.ID, ms.Name, ms.TotalSheets)
			if err != nil {
				return nil, err
			}
			cl.Materials = append(cl.Materials, m)
		}
		j.Cutlists = append(j.Cutlists, cl)
	}

	return j, nil
}

// Material returns the material with the given ID, or nil.
func (j *Job) Material(materialID id.MaterialID) *ledger.Material {
	for _, cl := range j.Cutlists {
		if m := cl.Material(materialID); m != nil {
			return m
		}
	}
	return nil
}

// Recut returns the recut entry with the given ID together with its
// material, or nils.
func (j *Job) Recut(recutID id.RecutID) (*ledger.RecutEntry, *ledger.Material) {
	for _, cl := range j.Cutlists {
		for _, m := range cl.Materials {
			if m.Recut != nil && m.Recut.ID == recutID {
				return m.Recut, m
			}
		}
	}
	return nil, nil
}

// Materials returns every material of the job in cutlist order.
func (j *Job) Materials() []*ledger.Material {
	var out []*ledger.Material
	for _, cl := range j.Cutlists {
		out = append(out, cl.Materials...)
	}
	return out
}

// Progress sums completed and total sheets across all cutlists.
func (j *Job) Progress() (completed, total int) {
	for _, cl := range j.Cutlists {
		c, t := cl.Progress()
		completed += c
		total += t
	}
	return completed, total
}

// Normalize fits every sheet arena to its declared capacity.
func (j *Job) Normalize() {
	for _, m := range j.Materials() {
		m.Normalize()
	}
}

// Touch records activity at now.
func (j *Job) Touch(now time.Time) {
	j.LastActivityAt = now.UTC()
	j.Entity.Touch(now)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Timer = j.Timer.clone()
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		cp.CompletedAt = &at
	}
	cp.Cutlists = make([]*ledger.Cutlist, len(j.Cutlists))
	for i, cl := range j.Cutlists {
		cp.Cutlists[i] = cl.Clone()
	}
	return &cp
}
