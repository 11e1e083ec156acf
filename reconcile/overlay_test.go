package reconcile

import (
	"testing"
	"time"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

func newSnapshot(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(job.BillOfMaterials{
		Name: "Shelving",
		Cutlists: []job.CutlistSpec{{
			Name:      "Sides",
			Materials: []job.MaterialSpec{{Name: "Pine 18mm", TotalSheets: 4}},
		}},
	}, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

// bump returns a newer snapshot of j with sheet index set to status.
func bump(t *testing.T, j *job.Job, index int, status ledger.SheetStatus) *job.Job {
	t.Helper()
	next := j.Clone()
	if _, err := next.Cutlists[0].Materials[0].SetSheet(index, status); err != nil {
		t.Fatalf("SetSheet: %v", err)
	}
	next.Version++
	return next
}

func TestOverlayApplyConfirm(t *testing.T) {
	snap := newSnapshot(t)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 0)

	m := o.Apply(target, ledger.StatusCut)
	if m.Previous != ledger.StatusPending {
		t.Errorf("Previous = %q, want pending", m.Previous)
	}
	if got := o.Status(target); got != ledger.StatusCut {
		t.Errorf("Status with overlay = %q, want cut", got)
	}
	if v := o.View(); v.Cutlists[0].Materials[0].Sheets.At(0) != ledger.StatusCut {
		t.Error("View should show the overlay")
	}
	if o.Snapshot().Cutlists[0].Materials[0].Sheets.At(0) != ledger.StatusPending {
		t.Error("Snapshot must not include overlays")
	}

	if !o.Confirm(m) {
		t.Error("Confirm should find the pending mutation")
	}
	if o.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", o.Pending())
	}
	// No fresh snapshot yet, so the authoritative value shows.
	if got := o.Status(target); got != ledger.StatusPending {
		t.Errorf("Status after confirm = %q, want pending", got)
	}
	if o.Confirm(m) {
		t.Error("second Confirm should report nothing pending")
	}
}

func TestOverlayRejectRestoresPrevious(t *testing.T) {
	snap := bump(t, newSnapshot(t), 1, ledger.StatusSkip)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 1)

	first := o.Apply(target, ledger.StatusCut)
	second := o.Apply(target, ledger.StatusPending)
	if second.Previous != ledger.StatusCut {
		t.Errorf("second.Previous = %q, want cut", second.Previous)
	}

	if got := o.Reject(second); got != ledger.StatusCut {
		t.Errorf("after rejecting newest = %q, want the earlier overlay cut", got)
	}
	if got := o.Reject(first); got != ledger.StatusSkip {
		t.Errorf("after rejecting all = %q, want authoritative skip", got)
	}
}

func TestOverlayRejectOlderKeepsNewer(t *testing.T) {
	snap := newSnapshot(t)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 2)

	first := o.Apply(target, ledger.StatusCut)
	o.Apply(target, ledger.StatusSkip)

	if got := o.Reject(first); got != ledger.StatusSkip {
		t.Errorf("Status = %q, want newest overlay skip", got)
	}
}

func TestOverlayAdoptKeepsInFlightOverlay(t *testing.T) {
	snap := newSnapshot(t)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 0)

	m := o.Apply(target, ledger.StatusCut)

	// A refresh that predates the write lands first.
	newer := bump(t, snap, 3, ledger.StatusCut)
	adopted, reset := o.Adopt(newer)
	if !adopted || reset {
		t.Fatalf("Adopt = (%v, %v), want (true, false)", adopted, reset)
	}
	if got := o.Status(target); got != ledger.StatusCut {
		t.Errorf("overlay clobbered by refresh: %q", got)
	}
	if got := o.Status(MaterialSheet(snap.Cutlists[0].Materials[0].ID, 3)); got != ledger.StatusCut {
		t.Errorf("untouched target should follow snapshot, got %q", got)
	}

	o.Confirm(m)
	confirmed := bump(t, newer, 0, ledger.StatusCut)
	o.Adopt(confirmed)
	if got := o.Status(target); got != ledger.StatusCut {
		t.Errorf("Status = %q, want cut from snapshot", got)
	}
}

func TestOverlayAdoptIgnoresStale(t *testing.T) {
	snap := newSnapshot(t)
	newer := bump(t, snap, 0, ledger.StatusCut)
	o := NewOverlay(newer)

	adopted, _ := o.Adopt(snap)
	if adopted {
		t.Error("older snapshot should be ignored")
	}
	adopted, _ = o.Adopt(newer)
	if adopted {
		t.Error("same version should be ignored")
	}
	if o.Snapshot().Version != newer.Version {
		t.Errorf("version = %d, want %d", o.Snapshot().Version, newer.Version)
	}
}

func TestOverlayAdoptNewIdentityResets(t *testing.T) {
	snap := newSnapshot(t)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 0)
	o.Apply(target, ledger.StatusCut)

	// Same ID, recreated: older version but a new creation time.
	recreated := snap.Clone()
	recreated.CreatedAt = snap.CreatedAt.Add(time.Hour)
	recreated.Version = 1

	adopted, reset := o.Adopt(recreated)
	if !adopted || !reset {
		t.Fatalf("Adopt = (%v, %v), want (true, true)", adopted, reset)
	}
	if o.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after reset", o.Pending())
	}
	if got := o.Status(target); got != ledger.StatusPending {
		t.Errorf("Status = %q, want pending", got)
	}

	other := newSnapshot(t)
	if adopted, _ := o.Adopt(other); !adopted {
		t.Error("a different job should always be adopted")
	}
}

func TestOverlayAdoptIgnoresSubMicrosecondCreationTime(t *testing.T) {
	snap := newSnapshot(t)
	snap.CreatedAt = time.Date(2025, 3, 1, 8, 0, 0, 123456789, time.UTC)
	o := NewOverlay(snap)
	target := MaterialSheet(snap.Cutlists[0].Materials[0].ID, 0)
	o.Apply(target, ledger.StatusCut)

	// The same job read back from a store that keeps microseconds.
	stored := snap.Clone()
	stored.CreatedAt = snap.CreatedAt.Truncate(time.Microsecond)
	stored.Version = snap.Version + 1

	adopted, reset := o.Adopt(stored)
	if !adopted || reset {
		t.Fatalf("Adopt = (%v, %v), want (true, false)", adopted, reset)
	}
	if o.Pending() != 1 {
		t.Errorf("Pending = %d, want the in-flight toggle kept", o.Pending())
	}
	if got := o.Status(target); got != ledger.StatusCut {
		t.Errorf("Status = %q, want cut", got)
	}

	stale := snap.Clone()
	stale.CreatedAt = stored.CreatedAt
	stale.Version = snap.Version
	if adopted, _ := o.Adopt(stale); adopted {
		t.Error("an older snapshot of the same job should be ignored")
	}
}

func TestOverlayUnknownTarget(t *testing.T) {
	o := NewOverlay(nil)
	target := Target{Kind: KindRecut, EntityID: "recut_01h455vb4pex5vsknk084sn02q", Index: 0}
	if got := o.Status(target); got != ledger.StatusPending {
		t.Errorf("Status = %q, want pending", got)
	}
	if o.View() != nil {
		t.Error("View without snapshot should be nil")
	}
}

func TestOverlayMerge(t *testing.T) {
	snap := newSnapshot(t)
	o := NewOverlay(snap)
	mat := snap.Cutlists[0].Materials[0].Clone()

	if _, err := mat.SetSheet(1, ledger.StatusCut); err != nil {
		t.Fatalf("SetSheet: %v", err)
	}
	r, err := mat.AddRecut(id.NewRecutID(), 2)
	if err != nil {
		t.Fatalf("AddRecut: %v", err)
	}
	o.MergeMaterial(mat)

	if got := o.Status(MaterialSheet(mat.ID, 1)); got != ledger.StatusCut {
		t.Errorf("merged sheet = %q, want cut", got)
	}
	if o.Snapshot().Version != snap.Version {
		t.Error("merge must not change the version")
	}

	r = r.Clone()
	if _, err := r.SetSheet(1, ledger.StatusSkip); err != nil {
		t.Fatalf("SetSheet: %v", err)
	}
	o.MergeRecut(r)
	if got := o.Status(RecutSheet(r.ID, 1)); got != ledger.StatusSkip {
		t.Errorf("merged recut sheet = %q, want skip", got)
	}
}
