package ledger_test

import (
	"errors"
	"testing"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/ledger"
)

func newMaterial(t *testing.T, total int) *ledger.Material {
	t.Helper()
	m, err := ledger.NewMaterial(id.NewCutlistID(), "Birch 18mm", total)
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}
	return m
}

func TestNewMaterialStartsPending(t *testing.T) {
	m := newMaterial(t, 3)
	if m.Sheets.Cap() != 3 {
		t.Fatalf("expected capacity 3, got %d", m.Sheets.Cap())
	}
	for i := range 3 {
		if got := m.Sheets.At(i); got != ledger.StatusPending {
			t.Errorf("sheet %d: expected pending, got %q", i, got)
		}
	}
	if m.CompletedSheets() != 0 {
		t.Errorf("expected 0 completed, got %d", m.CompletedSheets())
	}
}

func TestNewMaterialRejectsZeroSheets(t *testing.T) {
	_, err := ledger.NewMaterial(id.NewCutlistID(), "x", 0)
	if !errors.Is(err, cuttrack.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSetSheet(t *testing.T) {
	m := newMaterial(t, 3)

	changed, err := m.SetSheet(1, ledger.StatusCut)
	if err != nil {
		t.Fatalf("SetSheet: %v", err)
	}
	if !changed {
		t.Error("expected change")
	}
	if m.CompletedSheets() != 1 {
		t.Errorf("expected 1 completed, got %d", m.CompletedSheets())
	}

	// Same value again is a no-op.
	changed, err = m.SetSheet(1, ledger.StatusCut)
	if err != nil {
		t.Fatalf("SetSheet: %v", err)
	}
	if changed {
		t.Error("expected no change on repeated set")
	}
	if m.CompletedSheets() != 1 {
		t.Errorf("expected 1 completed, got %d", m.CompletedSheets())
	}
}

func TestSetSheetOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		index int
	}{
		{"negative", -1},
		{"equal to total", 3},
		{"past total", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newMaterial(t, 3)
			_, err := m.SetSheet(tt.index, ledger.StatusCut)
			if !errors.Is(err, cuttrack.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if m.Sheets.Count(ledger.StatusPending) != 3 {
				t.Error("ledger should be unchanged")
			}
		})
	}
}

func TestSetSheetUnknownStatus(t *testing.T) {
	m := newMaterial(t, 2)
	if _, err := m.SetSheet(0, ledger.SheetStatus("burnt")); !errors.Is(err, cuttrack.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCompletedIgnoresSkip(t *testing.T) {
	m := newMaterial(t, 3)
	mustSet(t, m, 0, ledger.StatusCut)
	mustSet(t, m, 1, ledger.StatusSkip)
	mustSet(t, m, 2, ledger.StatusCut)
	if m.CompletedSheets() != 2 {
		t.Errorf("expected 2 completed, got %d", m.CompletedSheets())
	}

	mustSet(t, m, 0, ledger.StatusPending)
	if m.CompletedSheets() != 1 {
		t.Errorf("expected 1 completed, got %d", m.CompletedSheets())
	}
}

func TestNormalizePadsShortArena(t *testing.T) {
	m := &ledger.Material{
		ID:          id.NewMaterialID(),
		TotalSheets: 4,
		Sheets:      ledger.Sheets{ledger.StatusCut},
	}
	m.Normalize()
	if m.Sheets.Cap() != 4 {
		t.Fatalf("expected capacity 4, got %d", m.Sheets.Cap())
	}
	if m.Sheets.At(0) != ledger.StatusCut || m.Sheets.At(3) != ledger.StatusPending {
		t.Errorf("unexpected arena %v", m.Sheets)
	}
}

func TestAddRecut(t *testing.T) {
	m := newMaterial(t, 3)
	rid := id.NewRecutID()

	r, err := m.AddRecut(rid, 2)
	if err != nil {
		t.Fatalf("AddRecut: %v", err)
	}
	if r.ID != rid || r.Quantity != 2 || r.Sheets.Cap() != 2 {
		t.Fatalf("unexpected recut %+v", r)
	}
	if _, err := r.SetSheet(1, ledger.StatusCut); err != nil {
		t.Fatalf("SetSheet: %v", err)
	}

	// A second recut extends the existing entry.
	r2, err := m.AddRecut(id.NewRecutID(), 3)
	if err != nil {
		t.Fatalf("AddRecut: %v", err)
	}
	if r2.ID != rid {
		t.Errorf("expected existing recut %s, got %s", rid, r2.ID)
	}
	if r2.Quantity != 5 || r2.Sheets.Cap() != 5 {
		t.Errorf("expected quantity 5, got %d (cap %d)", r2.Quantity, r2.Sheets.Cap())
	}
	if r2.Sheets.At(1) != ledger.StatusCut {
		t.Error("existing recut statuses must survive extension")
	}
	if r2.CompletedSheets() != 1 {
		t.Errorf("expected 1 completed recut sheet, got %d", r2.CompletedSheets())
	}
}

func TestAddRecutRejectsNonPositive(t *testing.T) {
	for _, qty := range []int{0, -2} {
		m := newMaterial(t, 1)
		if _, err := m.AddRecut(id.NewRecutID(), qty); !errors.Is(err, cuttrack.ErrValidation) {
			t.Errorf("qty %d: expected ErrValidation, got %v", qty, err)
		}
		if m.Recut != nil {
			t.Errorf("qty %d: recut must not be created", qty)
		}
	}
}

func TestResolveToggle(t *testing.T) {
	tests := []struct {
		current, requested, want ledger.SheetStatus
	}{
		{ledger.StatusPending, ledger.StatusCut, ledger.StatusCut},
		{ledger.StatusCut, ledger.StatusCut, ledger.StatusPending},
		{ledger.StatusSkip, ledger.StatusSkip, ledger.StatusPending},
		{ledger.StatusCut, ledger.StatusSkip, ledger.StatusSkip},
		{ledger.StatusSkip, ledger.StatusCut, ledger.StatusCut},
		{ledger.StatusPending, ledger.StatusPending, ledger.StatusPending},
	}

	for _, tt := range tests {
		if got := ledger.Resolve(tt.current, tt.requested); got != tt.want {
			t.Errorf("Resolve(%s, %s) = %s, want %s", tt.current, tt.requested, got, tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := newMaterial(t, 2)
	if _, err := m.AddRecut(id.NewRecutID(), 1); err != nil {
		t.Fatal(err)
	}
	cp := m.Clone()
	mustSet(t, cp, 0, ledger.StatusCut)
	if _, err := cp.Recut.SetSheet(0, ledger.StatusCut); err != nil {
		t.Fatal(err)
	}
	if m.Sheets.At(0) != ledger.StatusPending || m.Recut.Sheets.At(0) != ledger.StatusPending {
		t.Error("mutating the clone changed the original")
	}
}

func TestCutlistProgress(t *testing.T) {
	a := newMaterial(t, 2)
	b := newMaterial(t, 3)
	mustSet(t, a, 0, ledger.StatusCut)
	mustSet(t, b, 2, ledger.StatusCut)
	r, err := b.AddRecut(id.NewRecutID(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetSheet(0, ledger.StatusCut); err != nil {
		t.Fatal(err)
	}

	cl := &ledger.Cutlist{ID: id.NewCutlistID(), Materials: []*ledger.Material{a, b}}
	done, total := cl.Progress()
	if done != 3 || total != 6 {
		t.Errorf("expected 3/6, got %d/%d", done, total)
	}
	if cl.Material(b.ID) != b {
		t.Error("Material lookup failed")
	}
}

func mustSet(t *testing.T, m *ledger.Material, index int, s ledger.SheetStatus) {
	t.Helper()
	if _, err := m.SetSheet(index, s); err != nil {
		t.Fatalf("SetSheet(%d, %s): %v", index, s, err)
	}
}
