// Package reconcile keeps a client's view of a job consistent while its
// own writes are in flight. Tentative sheet statuses are layered over the
// last authoritative snapshot and are confirmed, rolled back or replaced
// as server answers and fresh snapshots arrive.
package reconcile

import (
	"fmt"
	"sync"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Kind tells which ledger a Target addresses.
type Kind string

const (
	KindMaterial Kind = "material"
	KindRecut    Kind = "recut"
)

// Target addresses one sheet of a material or recut ledger.
type Target struct {
	Kind     Kind
	EntityID string
	Index    int
}

// MaterialSheet targets sheet index of a material.
func MaterialSheet(materialID id.MaterialID, index int) Target {
	return Target{Kind: KindMaterial, EntityID: materialID.String(), Index: index}
}

// RecutSheet targets sheet index of a recut entry.
func RecutSheet(recutID id.RecutID, index int) Target {
	return Target{Kind: KindRecut, EntityID: recutID.String(), Index: index}
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s[%d]", t.Kind, t.EntityID, t.Index)
}

// Mutation is one tentative write. Previous is the effective status the
// target had when the mutation was applied.
type Mutation struct {
	Target   Target
	Status   ledger.SheetStatus
	Previous ledger.SheetStatus

	seq uint64
}

// identity distinguishes one job instance from another. A job deleted and
// recreated under a reused ID still differs by creation time. Creation
// time is compared in microseconds, the precision postgres keeps.
type identity struct {
	jobID   string
	created int64
}

func identityOf(j *job.Job) identity {
	return identity{jobID: j.ID.String(), created: j.CreatedAt.UnixMicro()}
}

// Overlay layers in-flight mutations over an authoritative snapshot.
// It is safe for concurrent use.
type Overlay struct {
	mu       sync.Mutex
	snapshot *job.Job
	pending  map[Target][]*Mutation
	seq      uint64
}

// NewOverlay creates an overlay over snapshot, which may be nil until the
// first Adopt.
func NewOverlay(snapshot *job.Job) *Overlay {
	o := &Overlay{pending: make(map[Target][]*Mutation)}
	if snapshot != nil {
		o.snapshot = snapshot.Clone()
		o.snapshot.Normalize()
	}
	return o
}

// Apply records a tentative status for t. Mutations on the same target
// stack; the newest one is effective.
func (o *Overlay) Apply(t Target, status ledger.SheetStatus) *Mutation {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	m := &Mutation{
		Target:   t,
		Status:   status,
		Previous: o.statusLocked(t),
		seq:      o.seq,
	}
	o.pending[t] = append(o.pending[t], m)
	return m
}

// Confirm drops m after the server accepted it. It reports whether m was
// still pending; a reset by Adopt may have dropped it already.
func (o *Overlay) Confirm(m *Mutation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removeLocked(m)
}

// Reject drops m after the server refused it and returns the status the
// target falls back to: the previous in-flight mutation, if any, or the
// authoritative value.
func (o *Overlay) Reject(m *Mutation) ledger.SheetStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeLocked(m)
	return o.statusLocked(m.Target)
}

// Adopt replaces the authoritative snapshot. A snapshot of a different job
// instance clears every overlay. A snapshot of the same instance that is
// not newer than the current one is ignored. Adopt reports whether the
// snapshot was taken and whether overlays were reset.
func (o *Overlay) Adopt(snapshot *job.Job) (adopted, reset bool) {
	if snapshot == nil {
		return false, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.snapshot != nil && identityOf(o.snapshot) == identityOf(snapshot) {
		if snapshot.Version <= o.snapshot.Version {
			return false, false
		}
		o.snapshot = snapshot.Clone()
		o.snapshot.Normalize()
		return true, false
	}

	reset = o.snapshot != nil && len(o.pending) > 0
	o.snapshot = snapshot.Clone()
	o.snapshot.Normalize()
	o.pending = make(map[Target][]*Mutation)
	return true, reset
}

// Status returns the effective status of t: the newest in-flight
// mutation, otherwise the authoritative value.
func (o *Overlay) Status(t Target) ledger.SheetStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked(t)
}

// Pending returns the number of in-flight mutations.
func (o *Overlay) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, stack := range o.pending {
		n += len(stack)
	}
	return n
}

// Snapshot returns a copy of the authoritative snapshot, or nil.
func (o *Overlay) Snapshot() *job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.Clone()
}

// View returns a copy of the snapshot with every effective overlay written
// into its ledgers. It is what a user should be shown.
func (o *Overlay) View() *job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snapshot == nil {
		return nil
	}
	v := o.snapshot.Clone()
	for t, stack := range o.pending {
		if len(stack) == 0 {
			continue
		}
		if sheets := sheetsOf(v, t); sheets != nil {
			// Out of range targets were rejected server side or will be.
			_, _ = sheets.Set(t.Index, stack[len(stack)-1].Status)
		}
	}
	return v
}

// MergeMaterial writes a material returned by the server into the
// snapshot. The snapshot version is left alone so the next refresh still
// supersedes it.
func (o *Overlay) MergeMaterial(m *ledger.Material) {
	if m == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snapshot == nil {
		return
	}
	for _, cl := range o.snapshot.Cutlists {
		for i, cur := range cl.Materials {
			if cur.ID.String() == m.ID.String() {
				merged := m.Clone()
				merged.Normalize()
				cl.Materials[i] = merged
				return
			}
		}
	}
}

// MergeRecut writes a recut entry returned by the server into its material
// in the snapshot.
func (o *Overlay) MergeRecut(r *ledger.RecutEntry) {
	if r == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snapshot == nil {
		return
	}
	if m := o.snapshot.Material(r.MaterialID); m != nil {
		m.Recut = r.Clone()
		m.Recut.Normalize()
	}
}

func (o *Overlay) statusLocked(t Target) ledger.SheetStatus {
	if stack := o.pending[t]; len(stack) > 0 {
		return stack[len(stack)-1].Status
	}
	if o.snapshot == nil {
		return ledger.StatusPending
	}
	if sheets := sheetsOf(o.snapshot, t); sheets != nil {
		return sheets.At(t.Index)
	}
	return ledger.StatusPending
}

func (o *Overlay) removeLocked(m *Mutation) bool {
	stack := o.pending[m.Target]
	for i, cur := range stack {
		if cur.seq != m.seq {
			continue
		}
		stack = append(stack[:i], stack[i+1:]...)
		if len(stack) == 0 {
			delete(o.pending, m.Target)
		} else {
			o.pending[m.Target] = stack
		}
		return true
	}
	return false
}

// sheetsOf returns the ledger t points into, or nil if j has no such
// entity.
func sheetsOf(j *job.Job, t Target) ledger.Sheets {
	switch t.Kind {
	case KindMaterial:
		materialID, err := id.ParseMaterialID(t.EntityID)
		if err != nil {
			return nil
		}
		if m := j.Material(materialID); m != nil {
			return m.Sheets
		}
	case KindRecut:
		recutID, err := id.ParseRecutID(t.EntityID)
		if err != nil {
			return nil
		}
		if r, _ := j.Recut(recutID); r != nil {
			return r.Sheets
		}
	}
	return nil
}
