package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(job.BillOfMaterials{
		Name: "Kitchen",
		Cutlists: []job.CutlistSpec{{
			Name: "Carcass",
			Materials: []job.MaterialSpec{
				{Name: "Birch 18mm", TotalSheets: 3},
				{Name: "MDF 6mm", TotalSheets: 1},
			},
		}},
	}, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j
}

func TestNew(t *testing.T) {
	j := newJob(t)
	if j.Status != job.StatusWaiting {
		t.Errorf("expected waiting, got %s", j.Status)
	}
	if j.Timer.Total != 0 || j.Timer.Running() {
		t.Errorf("expected zero stopped timer, got %+v", j.Timer)
	}
	ms := j.Materials()
	if len(ms) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(ms))
	}
	if ms[0].Sheets.Count(ledger.StatusPending) != 3 {
		t.Error("expected all sheets pending")
	}
	if ms[0].CutlistID != j.Cutlists[0].ID || j.Cutlists[0].JobID != j.ID {
		t.Error("ownership ids not wired")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		bom  job.BillOfMaterials
	}{
		{"empty name", job.BillOfMaterials{Name: "  "}},
		{"zero sheets", job.BillOfMaterials{
			Name:     "x",
			Cutlists: []job.CutlistSpec{{Materials: []job.MaterialSpec{{Name: "m", TotalSheets: 0}}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := job.New(tt.bom, t0); !errors.Is(err, cuttrack.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestStartPauseAccumulates(t *testing.T) {
	j := newJob(t)

	if err := j.Start(t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.Status != job.StatusInProgress || !j.Timer.Running() {
		t.Fatalf("expected running in_progress job, got %s", j.Status)
	}
	if err := j.Pause(t0.Add(90*time.Second), job.PauseManual); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if j.Timer.Total != 90*time.Second {
		t.Errorf("expected 90s, got %s", j.Timer.Total)
	}
	if j.Timer.Running() {
		t.Error("timer should be stopped")
	}

	if err := j.Start(t0.Add(5 * time.Minute)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := j.Timer.Live(t0.Add(6 * time.Minute)); got != 150*time.Second {
		t.Errorf("expected live 150s, got %s", got)
	}
	if !j.Complete(t0.Add(7 * time.Minute)) {
		t.Fatal("expected Complete to change the job")
	}
	if j.Timer.Total != 210*time.Second {
		t.Errorf("expected 210s, got %s", j.Timer.Total)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(j *job.Job)
		op    func(j *job.Job) error
	}{
		{
			"start in_progress",
			func(j *job.Job) { _ = j.Start(t0) },
			func(j *job.Job) error { return j.Start(t0.Add(time.Second)) },
		},
		{
			"start done",
			func(j *job.Job) { j.Complete(t0) },
			func(j *job.Job) error { return j.Start(t0.Add(time.Second)) },
		},
		{
			"pause waiting",
			func(*job.Job) {},
			func(j *job.Job) error { return j.Pause(t0, job.PauseManual) },
		},
		{
			"pause paused",
			func(j *job.Job) { _ = j.Start(t0); _ = j.Pause(t0, job.PauseManual) },
			func(j *job.Job) error { return j.Pause(t0, job.PauseManual) },
		},
		{
			"pause done",
			func(j *job.Job) { j.Complete(t0) },
			func(j *job.Job) error { return j.Pause(t0, job.PauseManual) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newJob(t)
			tt.setup(j)
			before := j.Clone()
			if err := tt.op(j); !errors.Is(err, cuttrack.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if j.Status != before.Status || j.Timer.Total != before.Timer.Total {
				t.Error("failed transition must not change the job")
			}
		})
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	j := newJob(t)
	if !j.Complete(t0) {
		t.Fatal("first Complete should change the job")
	}
	if j.Complete(t0.Add(time.Hour)) {
		t.Error("second Complete should be a no-op")
	}
	if !j.CompletedAt.Equal(t0) {
		t.Errorf("CompletedAt moved to %s", j.CompletedAt)
	}
}

func TestCompleteFromWaitingKeepsZeroTotal(t *testing.T) {
	j := newJob(t)
	j.Complete(t0.Add(time.Hour))
	if j.Timer.Total != 0 {
		t.Errorf("expected zero total, got %s", j.Timer.Total)
	}
}

func TestIdlePauseKeepsLastActivity(t *testing.T) {
	j := newJob(t)
	_ = j.Start(t0)
	if err := j.Pause(t0.Add(time.Hour), job.PauseIdle); err != nil {
		t.Fatal(err)
	}
	if !j.LastActivityAt.Equal(t0) {
		t.Errorf("idle pause should not count as activity, got %s", j.LastActivityAt)
	}
	if j.PauseReason != job.PauseIdle {
		t.Errorf("expected idle reason, got %q", j.PauseReason)
	}
}

func TestLookups(t *testing.T) {
	j := newJob(t)
	m := j.Materials()[1]
	if j.Material(m.ID) != m {
		t.Fatal("Material lookup failed")
	}
	r, err := m.AddRecut(newRecutID(), 2)
	if err != nil {
		t.Fatal(err)
	}
	gotR, gotM := j.Recut(r.ID)
	if gotR != r || gotM != m {
		t.Error("Recut lookup failed")
	}
	done, total := j.Progress()
	if done != 0 || total != 6 {
		t.Errorf("expected 0/6, got %d/%d", done, total)
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := newJob(t)
	_ = j.Start(t0)
	cp := j.Clone()
	*cp.Timer.StartedAt = t0.Add(time.Hour)
	if _, err := cp.Materials()[0].SetSheet(0, ledger.StatusCut); err != nil {
		t.Fatal(err)
	}
	if !j.Timer.StartedAt.Equal(t0) {
		t.Error("clone shares timer start")
	}
	if j.Materials()[0].CompletedSheets() != 0 {
		t.Error("clone shares sheet arena")
	}
}

func TestNewTruncatesCreationToMicroseconds(t *testing.T) {
	now := t0.Add(123456789 * time.Nanosecond)
	j, err := job.New(job.BillOfMaterials{Name: "Shelf"}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := t0.Add(123456 * time.Microsecond)
	if !j.CreatedAt.Equal(want) || !j.UpdatedAt.Equal(want) {
		t.Errorf("CreatedAt = %s, UpdatedAt = %s, want %s", j.CreatedAt, j.UpdatedAt, want)
	}
}
