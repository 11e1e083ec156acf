package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/api"
	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/engine"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
	"github.com/xraph/cuttrack/observability"
	"github.com/xraph/cuttrack/store/memory"
	"github.com/xraph/cuttrack/stream"
)

type fixture struct {
	eng *engine.Engine
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prom.NewRegistry()

	broker := stream.NewBroker(logger)
	eng, err := engine.New(
		engine.WithStore(memory.New()),
		engine.WithLogger(logger),
		engine.WithBroker(broker),
		engine.WithExtension(observability.NewPrometheusExtension(reg, broker)),
	)
	require.NoError(t, err)

	h := api.New(eng,
		api.WithRouter(forge.NewRouter()),
		api.WithLogger(logger),
		api.WithGatherer(reg),
		api.WithDWP(dwp.NewServer(dwp.NewHandler(eng, logger), dwp.WithLogger(logger))),
		api.WithHeartbeat(50*time.Millisecond),
	).Handler()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{eng: eng, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeAs[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func bom() job.BillOfMaterials {
	return job.BillOfMaterials{
		Name: "Wardrobe 7",
		Cutlists: []job.CutlistSpec{
			{Name: "Doors", Materials: []job.MaterialSpec{{Name: "Oak veneer 19mm", TotalSheets: 4}}},
			{Name: "Backs", Materials: []job.MaterialSpec{{Name: "HDF 3mm", TotalSheets: 2}}},
		},
	}
}

func TestJobRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/jobs", bom())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeAs[job.Job](t, resp)
	assert.Equal(t, job.StatusWaiting, created.Status)
	base := "/v1/jobs/" + created.ID.String()

	resp = f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, job.StatusInProgress, decodeAs[job.Job](t, resp).Status)

	resp = f.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopped := decodeAs[job.Job](t, resp)
	assert.Equal(t, job.StatusPaused, stopped.Status)
	assert.Nil(t, stopped.Timer.StartedAt)

	resp = f.do(t, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, job.StatusDone, decodeAs[job.Job](t, resp).Status)

	resp = f.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/jobs?status=done", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeAs[[]job.Job](t, resp), 1)

	resp = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, decodeAs[api.ErrorResponse](t, resp).Code)
}

func TestJobRouteValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty name", http.MethodPost, "/v1/jobs", job.BillOfMaterials{}, http.StatusBadRequest},
		{"bad job id", http.MethodGet, "/v1/jobs/nope", nil, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/v1/jobs?status=lost", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/jobs?limit=-3", nil, http.StatusBadRequest},
		{"bad material id", http.MethodPut, "/v1/materials/x/sheets/0", map[string]string{"status": "cut"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestLedgerRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.eng.CreateJob(ctx, bom())
	require.NoError(t, err)
	mat := j.Materials()[0]
	matPath := "/v1/materials/" + mat.ID.String()

	resp := f.do(t, http.MethodPut, matPath+"/sheets/2", map[string]string{"status": "cut"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decodeAs[ledger.Material](t, resp)
	assert.Equal(t, ledger.StatusCut, m.Sheets.At(2))

	resp = f.do(t, http.MethodPut, matPath+"/sheets/4", map[string]string{"status": "cut"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, matPath+"/recuts", map[string]int{"quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decodeAs[ledger.RecutEntry](t, resp)
	assert.Equal(t, 2, entry.Quantity)

	resp = f.do(t, http.MethodPut, "/v1/recuts/"+entry.ID.String()+"/sheets/1", map[string]string{"status": "skip"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry = decodeAs[ledger.RecutEntry](t, resp)
	assert.Equal(t, ledger.StatusSkip, entry.Sheets.At(1))

	got, err := f.eng.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Version+3, got.Version)
}

// sseEvent is one parsed text/event-stream event.
type sseEvent struct {
	name string
	data string
}

// openEvents opens a job event stream and returns its events, heartbeats
// left out. The channel closes when the server ends the stream.
func (f *fixture) openEvents(t *testing.T, ctx context.Context, jobID string) <-chan sseEvent {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/v1/jobs/"+jobID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		var cur sseEvent
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				if cur.name != "" && cur.name != "heartbeat" {
					events <- cur
				}
				cur = sseEvent{}
				continue
			}
			if v, ok := strings.CutPrefix(line, "event:"); ok {
				cur.name = strings.TrimSpace(v)
			} else if v, ok := strings.CutPrefix(line, "data:"); ok {
				cur.data += strings.TrimSpace(v)
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		require.True(t, ok, "stream closed early")
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func TestJobEventStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.eng.CreateJob(ctx, bom())
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events := f.openEvents(t, reqCtx, j.ID.String())

	snap := nextEvent(t, events)
	require.Equal(t, "snapshot", snap.name)
	var got job.Job
	require.NoError(t, json.Unmarshal([]byte(snap.data), &got))
	assert.Equal(t, j.ID, got.ID)

	_, err = f.eng.StartJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, string(stream.EventJobUpdated), nextEvent(t, events).name)

	_, err = f.eng.SetSheetStatus(ctx, j.Materials()[1].ID, 0, ledger.StatusCut)
	require.NoError(t, err)
	assert.Equal(t, string(stream.EventMaterialUpdated), nextEvent(t, events).name)

	require.NoError(t, f.eng.DeleteJob(ctx, j.ID))
	assert.Equal(t, string(stream.EventJobDeleted), nextEvent(t, events).name)

	// The stream ends after the deletion.
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after deletion")
	}
}

func TestJobEventStreamRejectsBadJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name  string
		jobID string
		want  int
	}{
		{"unknown job", "job_01h455vb4pex5vsknk084sn02q", http.StatusNotFound},
		{"malformed id", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			evt := nextEvent(t, f.openEvents(t, ctx, tt.jobID))
			require.Equal(t, "error", evt.name)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(evt.data), &resp))
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeAs[map[string]string](t, resp)["status"])

	_, err := f.eng.CreateJob(context.Background(), bom())
	require.NoError(t, err)

	resp = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cuttrack_stream_published_total")
}

func TestDWPRPCMounted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	frame, err := dwp.NewRequestFrame("r1", dwp.MethodJobCreate, bom())
	require.NoError(t, err)
	resp := f.do(t, http.MethodPost, "/dwp/rpc", frame)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeAs[dwp.Frame](t, resp)
	assert.Equal(t, dwp.FrameResponse, out.Type)
	assert.Equal(t, "r1", out.CorrelID)
}
