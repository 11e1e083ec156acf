// Package api serves the cuttrack HTTP surface: a REST API over the
// engine, a server-sent event stream per job, health and Prometheus
// endpoints, and the DWP WebSocket endpoint when one is configured.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/engine"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// DefaultRequestTimeout bounds every non-streaming request.
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes caps request bodies on the /v1 routes.
const maxBodyBytes = 1 << 20

// API wires the HTTP handlers together for the cuttrack engine.
type API struct {
	eng            *engine.Engine
	router         forge.Router
	dwp            *dwp.Server
	gatherer       prom.Gatherer
	logger         *slog.Logger
	requestTimeout time.Duration
	heartbeat      time.Duration
}

// Option configures an API.
type Option func(*API)

// WithRouter registers the /v1 routes on router instead of a fresh one.
func WithRouter(router forge.Router) Option {
	return func(a *API) { a.router = router }
}

// WithDWP mounts a DWP server at /dwp and its RPC endpoint at /dwp/rpc.
func WithDWP(srv *dwp.Server) Option {
	return func(a *API) { a.dwp = srv }
}

// WithGatherer serves /metrics from g. Without it /metrics is not mounted.
func WithGatherer(g prom.Gatherer) Option {
	return func(a *API) { a.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) { a.requestTimeout = d }
}

// WithHeartbeat sets how often an idle event stream sends a heartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// New creates an API from a cuttrack Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:            eng,
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		heartbeat:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
//
// The /v1 routes live on the forge router. Health, metrics and the DWP
// endpoints are plain http.Handlers, the DWP one hijacking the connection
// for its own WebSocket upgrade, so they sit on a chi mux in front of it.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	if a.dwp != nil {
		r.Handle("/dwp", a.dwp)
		r.Handle("/dwp/rpc", a.dwp.RPCHandler())
	}

	r.With(middleware.RequestSize(maxBodyBytes)).
		Handle("/v1/*", a.bounded(detachRoute(a.router.Handler())))
	return r
}

// RegisterRoutes registers all cuttrack API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerLedgerRoutes(router)
	a.registerEventRoutes(router)
}

// registerJobRoutes registers job lifecycle routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.POST("/jobs", a.createJob,
		forge.WithSummary("Create job"),
		forge.WithDescription("Creates a waiting job from a bill of materials."),
		forge.WithOperationID("createJob"),
		forge.WithRequestSchema(job.BillOfMaterials{}),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs ordered by creation time, optionally filtered by status."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns the current snapshot of a job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.DELETE("/jobs/:jobId", a.deleteJob,
		forge.WithSummary("Delete job"),
		forge.WithDescription("Removes a job with its cutlists, materials and recuts."),
		forge.WithOperationID("deleteJob"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)

	actions := []struct {
		name, summary, description string
		op                         jobOp
	}{
		{"start", "Start job", "Moves a waiting or paused job to in_progress.", a.eng.StartJob},
		{"pause", "Pause job", "Pauses a running job and folds the open segment into the total.", a.eng.PauseJob},
		{"complete", "Complete job", "Marks the job done from any status.", a.eng.CompleteJob},
		{"stop", "Stop job", "Pauses the job if it is running. Sent when a viewing session ends.", a.eng.StopJob},
		{"touch", "Touch job", "Records activity so the idle reaper leaves the job running.", a.eng.TouchJob},
	}
	for _, act := range actions {
		_ = g.POST("/jobs/:jobId/"+act.name, a.jobAction(act.op),
			forge.WithSummary(act.summary),
			forge.WithDescription(act.description),
			forge.WithOperationID(act.name+"Job"),
			forge.WithResponseSchema(http.StatusOK, "Updated job", &job.Job{}),
			forge.WithErrorResponses(),
		)
	}
}

// registerLedgerRoutes registers sheet and recut routes.
func (a *API) registerLedgerRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("ledger"))

	_ = g.PUT("/materials/:materialId/sheets/:index", a.setSheetStatus,
		forge.WithSummary("Set sheet status"),
		forge.WithDescription("Writes one sheet of a material's ledger. Writing the current value is a no-op."),
		forge.WithOperationID("setSheetStatus"),
		forge.WithRequestSchema(SheetStatusRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated material", &ledger.Material{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/materials/:materialId/recuts", a.addRecut,
		forge.WithSummary("Add recut"),
		forge.WithDescription("Creates or extends the material's recut entry."),
		forge.WithOperationID("addRecut"),
		forge.WithRequestSchema(AddRecutRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Recut entry", &ledger.RecutEntry{}),
		forge.WithErrorResponses(),
	)

	_ = g.PUT("/recuts/:recutId/sheets/:index", a.setRecutSheetStatus,
		forge.WithSummary("Set recut sheet status"),
		forge.WithDescription("Writes one sheet of a recut entry's ledger."),
		forge.WithOperationID("setRecutSheetStatus"),
		forge.WithRequestSchema(SheetStatusRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated recut entry", &ledger.RecutEntry{}),
		forge.WithErrorResponses(),
	)
}

// registerEventRoutes registers the per-job event stream.
func (a *API) registerEventRoutes(router forge.Router) {
	if err := router.EventStream("/v1/jobs/:jobId/events", a.jobEvents); err != nil {
		a.logger.Error("api: failed to register job event stream", slog.String("error", err.Error()))
	}
}

// bounded applies the request timeout to everything but event streams,
// which stay open until the client leaves or the job is deleted.
func (a *API) bounded(next http.Handler) http.Handler {
	withTimeout := middleware.Timeout(a.requestTimeout)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/events") {
			next.ServeHTTP(w, r)
			return
		}
		withTimeout.ServeHTTP(w, r)
	})
}

// detachRoute clears chi's routing state so the forge router matches the
// full request path rather than the remainder after /v1.
func detachRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, (*chi.Context)(nil))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
