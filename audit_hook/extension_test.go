package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/cuttrack/audit_hook"
	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(job.BillOfMaterials{
		Name: "Kitchen",
		Cutlists: []job.CutlistSpec{{
			Name:      "Carcass",
			Materials: []job.MaterialSpec{{Name: "Birch 18mm", TotalSheets: 4}},
		}},
	}, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func newTestRecut(t *testing.T, j *job.Job) *ledger.RecutEntry {
	t.Helper()
	r, err := j.Materials()[0].AddRecut(id.NewRecutID(), 2)
	if err != nil {
		t.Fatalf("AddRecut: %v", err)
	}
	return r
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobCreated(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob(t)

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobCreated {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCreated, evt.Action)
	}
	if evt.Resource != ah.ResourceJob {
		t.Errorf("Resource: want %q, got %q", ah.ResourceJob, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.ResourceID != j.ID.String() || evt.JobID != j.ID.String() {
		t.Errorf("ResourceID/JobID: want %q, got %q/%q", j.ID.String(), evt.ResourceID, evt.JobID)
	}
	if evt.Version != j.Version {
		t.Errorf("Version: want %d, got %d", j.Version, evt.Version)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["job_name"] != "Kitchen" {
		t.Errorf("Metadata[job_name]: want %q, got %v", "Kitchen", evt.Metadata["job_name"])
	}
	if evt.Metadata["sheets_total"] != 4 {
		t.Errorf("Metadata[sheets_total]: want 4, got %v", evt.Metadata["sheets_total"])
	}
}

func TestExtension_JobPaused(t *testing.T) {
	tests := []struct {
		reason   job.PauseReason
		severity string
	}{
		{job.PauseManual, ah.SeverityInfo},
		{job.PauseStop, ah.SeverityInfo},
		{job.PauseIdle, ah.SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			rec := &mockRecorder{}
			e := ah.New(rec)

			if err := e.OnJobPaused(context.Background(), newTestJob(t), tt.reason); err != nil {
				t.Fatalf("OnJobPaused: %v", err)
			}
			evt := rec.last()
			if evt.Severity != tt.severity {
				t.Errorf("Severity: want %q, got %q", tt.severity, evt.Severity)
			}
			if evt.Reason != string(tt.reason) {
				t.Errorf("Reason: want %q, got %q", tt.reason, evt.Reason)
			}
		})
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	elapsed := 95 * time.Minute

	if err := e.OnJobCompleted(context.Background(), newTestJob(t), elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobDeleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	jobID := id.NewJobID()

	if err := e.OnJobDeleted(context.Background(), jobID); err != nil {
		t.Fatalf("OnJobDeleted: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.ResourceID != jobID.String() {
		t.Errorf("ResourceID: want %q, got %q", jobID.String(), evt.ResourceID)
	}
	if evt.Version != 0 {
		t.Errorf("Version: want 0, got %d", evt.Version)
	}
}

// ── Ledger tests ─────────────────────────────────────

func TestExtension_SheetUpdated(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob(t)
	m := j.Materials()[0]

	if err := e.OnSheetStatusChanged(context.Background(), j, m, 2, ledger.StatusSkip); err != nil {
		t.Fatalf("OnSheetStatusChanged: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceMaterial || evt.ResourceID != m.ID.String() {
		t.Errorf("Resource: want material %s, got %s %s", m.ID, evt.Resource, evt.ResourceID)
	}
	if evt.Category != ah.CategoryLedger {
		t.Errorf("Category: want %q, got %q", ah.CategoryLedger, evt.Category)
	}
	if evt.Metadata["sheet_index"] != 2 || evt.Metadata["status"] != "skip" {
		t.Errorf("Metadata: unexpected %v", evt.Metadata)
	}
}

func TestExtension_RecutAdded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob(t)
	r := newTestRecut(t, j)

	if err := e.OnRecutAdded(context.Background(), j, r, 2); err != nil {
		t.Fatalf("OnRecutAdded: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceRecut || evt.ResourceID != r.ID.String() {
		t.Errorf("Resource: want recut %s, got %s %s", r.ID, evt.Resource, evt.ResourceID)
	}
	if evt.Metadata["added"] != 2 || evt.Metadata["quantity"] != 2 {
		t.Errorf("Metadata: unexpected %v", evt.Metadata)
	}
}

// ── Filtering tests ──────────────────────────────────

func TestExtension_WithActions_Filters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobCompleted))
	ctx := context.Background()
	j := newTestJob(t)

	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobPaused(ctx, j, job.PauseManual)
	_ = e.OnJobCompleted(ctx, j, time.Minute)

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().Action != ah.ActionJobCompleted {
		t.Errorf("expected %q, got %q", ah.ActionJobCompleted, rec.last().Action)
	}
}

func TestExtension_WithoutActions_Filters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithoutActions(ah.ActionSheetUpdated, ah.ActionRecutSheetUpdated))
	ctx := context.Background()
	j := newTestJob(t)
	m := j.Materials()[0]
	r := newTestRecut(t, j)

	_ = e.OnSheetStatusChanged(ctx, j, m, 0, ledger.StatusCut)
	_ = e.OnRecutSheetStatusChanged(ctx, j, r, 0, ledger.StatusCut)
	_ = e.OnRecutAdded(ctx, j, r, 2)

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().Action != ah.ActionRecutAdded {
		t.Errorf("expected %q, got %q", ah.ActionRecutAdded, rec.last().Action)
	}
}

func TestExtension_WithMinSeverity_Filters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithMinSeverity(ah.SeverityWarning))
	ctx := context.Background()
	j := newTestJob(t)

	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobPaused(ctx, j, job.PauseManual)
	_ = e.OnJobPaused(ctx, j, job.PauseIdle)
	_ = e.OnJobDeleted(ctx, j.ID)

	if rec.count() != 2 {
		t.Fatalf("expected 2 events, got %d", rec.count())
	}
	if evt := rec.findByAction(ah.ActionJobPaused); evt == nil || evt.Severity != ah.SeverityWarning {
		t.Errorf("expected the idle pause at warning, got %+v", evt)
	}
	if rec.findByAction(ah.ActionJobDeleted) == nil {
		t.Error("expected the delete to be recorded")
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	if err := e.OnJobStarted(context.Background(), newTestJob(t)); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionJobStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobStarted, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	if err := e.OnJobStarted(context.Background(), newTestJob(t)); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	j := newTestJob(t)
	m := j.Materials()[0]
	r := newTestRecut(t, j)

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobPaused(ctx, j, job.PauseIdle)
	reg.EmitJobCompleted(ctx, j, time.Hour)
	reg.EmitJobDeleted(ctx, j.ID)
	reg.EmitSheetStatusChanged(ctx, j, m, 0, ledger.StatusCut)
	reg.EmitRecutAdded(ctx, j, r, 2)
	reg.EmitRecutSheetStatusChanged(ctx, j, r, 1, ledger.StatusCut)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
