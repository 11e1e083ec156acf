package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
	mw "github.com/xraph/cuttrack/middleware"
	"github.com/xraph/cuttrack/observability"
	"github.com/xraph/cuttrack/store"
	"github.com/xraph/cuttrack/stream"
)

const instrumentationName = "github.com/xraph/cuttrack"

// Engine executes job, sheet and recut operations against a store, one
// writer per job at a time, and broadcasts committed changes.
type Engine struct {
	store      store.Store
	extensions *ext.Registry
	broker     *stream.Broker
	locks      *locker
	chain      mw.Middleware
	mws        []mw.Middleware
	pending    []ext.Extension
	clock      clockwork.Clock
	config     cuttrack.Config
	logger     *slog.Logger

	nodeID       string
	opTimeout    time.Duration
	idleSchedule string
	reaper       *cronlib.Cron

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// New creates an Engine. WithStore is required.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		config: cuttrack.DefaultConfig(),
		locks:  newLocker(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, cuttrack.ErrNoStore
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.clock == nil {
		eng.clock = clockwork.NewRealClock()
	}

	eng.extensions = ext.NewRegistry(eng.logger)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	if eng.broker == nil {
		eng.broker = stream.NewBroker(eng.logger,
			stream.WithBufferSize(eng.config.SubscriberBuffer),
			stream.WithDefaultCredits(eng.config.SubscriberCredits),
			stream.WithNodeID(eng.nodeID),
			stream.WithClock(eng.clock.Now),
		)
	}
	eng.extensions.Register(eng.broker)

	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
	eng.pending = nil

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.opTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)
	eng.chain = mw.Chain(allMws...)

	return eng, nil
}

// Start verifies the store and launches the idle reaper.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("cuttrack: ping store: %w", err)
	}
	if eng.config.IdleTimeout > 0 {
		if err := eng.startReaper(); err != nil {
			return fmt.Errorf("cuttrack: start idle reaper: %w", err)
		}
	}
	eng.logger.Info("engine started",
		slog.Duration("idle_timeout", eng.config.IdleTimeout),
		slog.String("node_id", eng.nodeID),
	)
	return nil
}

// Stop stops the reaper, notifies extensions, and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.stopReaper(ctx)
	eng.extensions.EmitShutdown(ctx)
	if err := eng.store.Close(); err != nil {
		return fmt.Errorf("cuttrack: close store: %w", err)
	}
	eng.logger.Info("engine stopped")
	return nil
}

// Store returns the persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }

// Broker returns the change broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Config returns the engine configuration.
func (eng *Engine) Config() cuttrack.Config { return eng.config }

// Clock returns the engine's time source.
func (eng *Engine) Clock() clockwork.Clock { return eng.clock }

// run executes fn under the job's lock through the middleware chain.
func (eng *Engine) run(ctx context.Context, op *mw.Op, fn mw.Handler) error {
	release, err := eng.locks.acquire(ctx, op.JobID)
	if err != nil {
		return fmt.Errorf("cuttrack: lock job %s: %w", op.JobID, err)
	}
	defer release()
	return eng.chain(ctx, op, fn)
}

// ──────────────────────────────────────────────────
// Job operations
// ──────────────────────────────────────────────────

// CreateJob builds a waiting job from a bill of materials and persists it.
func (eng *Engine) CreateJob(ctx context.Context, bom job.BillOfMaterials) (*job.Job, error) {
	j, err := job.New(bom, eng.clock.Now())
	if err != nil {
		return nil, err
	}

	err = eng.run(ctx, &mw.Op{Name: "job.create", JobID: j.ID}, func(ctx context.Context) error {
		if err := eng.store.CreateJob(ctx, j); err != nil {
			return err
		}
		eng.extensions.EmitJobCreated(ctx, j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob returns the current snapshot of a job.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs ordered by creation time.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, opts)
}

// StartJob moves a waiting or paused job to in_progress and opens a timer
// segment. Starting a job that is already running returns its snapshot
// unchanged.
func (eng *Engine) StartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, &mw.Op{Name: "job.start", JobID: jobID}, func(ctx context.Context) error {
		var started bool
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			started = false
			if j.Status == job.StatusInProgress {
				return job.ErrNoChange
			}
			if err := j.Start(eng.clock.Now()); err != nil {
				return err
			}
			started = true
			return nil
		})
		if err != nil {
			return err
		}
		if started {
			eng.extensions.EmitJobStarted(ctx, j)
		}
		out = j
		return nil
	})
	return out, err
}

// PauseJob moves an in_progress job to paused and folds the running
// segment into the total.
func (eng *Engine) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.pause(ctx, "job.pause", jobID, job.PauseManual)
}

// StopJob pauses the job if it is running and is a no-op otherwise. It is
// what a viewing session sends when it leaves, so duplicates from several
// viewers never fail.
func (eng *Engine) StopJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.pause(ctx, "job.stop", jobID, job.PauseStop)
}

func (eng *Engine) pause(ctx context.Context, name string, jobID id.JobID, reason job.PauseReason) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, &mw.Op{Name: name, JobID: jobID}, func(ctx context.Context) error {
		var paused bool
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			paused = false
			if reason != job.PauseManual && j.Status != job.StatusInProgress {
				return job.ErrNoChange
			}
			if err := j.Pause(eng.clock.Now(), reason); err != nil {
				return err
			}
			paused = true
			return nil
		})
		if err != nil {
			return err
		}
		if paused {
			eng.extensions.EmitJobPaused(ctx, j, reason)
		}
		out = j
		return nil
	})
	return out, err
}

// CompleteJob moves the job to done from any state. Completing a done job
// returns its snapshot unchanged.
func (eng *Engine) CompleteJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, &mw.Op{Name: "job.complete", JobID: jobID}, func(ctx context.Context) error {
		var completed bool
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			completed = false
			if !j.Complete(eng.clock.Now()) {
				return job.ErrNoChange
			}
			completed = true
			return nil
		})
		if err != nil {
			return err
		}
		if completed {
			eng.extensions.EmitJobCompleted(ctx, j, j.Timer.Total)
		}
		out = j
		return nil
	})
	return out, err
}

// TouchJob records activity on a running job so the idle reaper leaves it
// alone. It has no effect on jobs that are not running and emits no event.
func (eng *Engine) TouchJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, &mw.Op{Name: "job.touch", JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			if j.Status != job.StatusInProgress {
				return job.ErrNoChange
			}
			j.Touch(eng.clock.Now())
			return nil
		})
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// DeleteJob removes a job with everything it owns and closes its topic.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return eng.run(ctx, &mw.Op{Name: "job.delete", JobID: jobID}, func(ctx context.Context) error {
		if err := eng.store.DeleteJob(ctx, jobID); err != nil {
			return err
		}
		eng.extensions.EmitJobDeleted(ctx, jobID)
		return nil
	})
}

// ──────────────────────────────────────────────────
// Sheet and recut operations
// ──────────────────────────────────────────────────

// SetSheetStatus writes status at index in a material's sheet ledger.
// Writing the value already present is a no-op. Sheet updates are accepted
// in every job status.
func (eng *Engine) SetSheetStatus(ctx context.Context, materialID id.MaterialID, index int, status ledger.SheetStatus) (*ledger.Material, error) {
	jobID, err := eng.store.LookupMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}

	var out *ledger.Material
	op := &mw.Op{Name: "sheet.set", JobID: jobID, Target: materialID}
	err = eng.run(ctx, op, func(ctx context.Context) error {
		var changed bool
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			changed = false
			m := j.Material(materialID)
			if m == nil {
				return cuttrack.ErrMaterialNotFound
			}
			ok, err := m.SetSheet(index, status)
			if err != nil {
				return err
			}
			if !ok {
				return job.ErrNoChange
			}
			eng.recordActivity(j)
			changed = true
			return nil
		})
		if err != nil {
			return err
		}
		m := j.Material(materialID)
		if m == nil {
			return cuttrack.ErrMaterialNotFound
		}
		if changed {
			eng.extensions.EmitSheetStatusChanged(ctx, j, m, index, status)
		}
		out = m.Clone()
		return nil
	})
	return out, err
}

// AddRecut records quantity extra sheets to cut for a material. The first
// call creates the material's recut entry; later calls extend it.
func (eng *Engine) AddRecut(ctx context.Context, materialID id.MaterialID, quantity int) (*ledger.RecutEntry, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: recut quantity must be positive, got %d", cuttrack.ErrValidation, quantity)
	}
	jobID, err := eng.store.LookupMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}

	recutID := id.NewRecutID()
	var out *ledger.RecutEntry
	op := &mw.Op{Name: "recut.add", JobID: jobID, Target: materialID}
	err = eng.run(ctx, op, func(ctx context.Context) error {
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			m := j.Material(materialID)
			if m == nil {
				return cuttrack.ErrMaterialNotFound
			}
			if _, err := m.AddRecut(recutID, quantity); err != nil {
				return err
			}
			eng.recordActivity(j)
			return nil
		})
		if err != nil {
			return err
		}
		m := j.Material(materialID)
		if m == nil || m.Recut == nil {
			return cuttrack.ErrRecutNotFound
		}
		eng.extensions.EmitRecutAdded(ctx, j, m.Recut, quantity)
		out = m.Recut.Clone()
		return nil
	})
	return out, err
}

// SetRecutSheetStatus writes status at index in a recut entry's ledger.
func (eng *Engine) SetRecutSheetStatus(ctx context.Context, recutID id.RecutID, index int, status ledger.SheetStatus) (*ledger.RecutEntry, error) {
	jobID, err := eng.store.LookupRecut(ctx, recutID)
	if err != nil {
		return nil, err
	}

	var out *ledger.RecutEntry
	op := &mw.Op{Name: "recut.sheet.set", JobID: jobID, Target: recutID}
	err = eng.run(ctx, op, func(ctx context.Context) error {
		var changed bool
		j, err := eng.store.MutateJob(ctx, jobID, func(j *job.Job) error {
			changed = false
			r, _ := j.Recut(recutID)
			if r == nil {
				return cuttrack.ErrRecutNotFound
			}
			ok, err := r.SetSheet(index, status)
			if err != nil {
				return err
			}
			if !ok {
				return job.ErrNoChange
			}
			eng.recordActivity(j)
			changed = true
			return nil
		})
		if err != nil {
			return err
		}
		r, _ := j.Recut(recutID)
		if r == nil {
			return cuttrack.ErrRecutNotFound
		}
		if changed {
			eng.extensions.EmitRecutSheetStatusChanged(ctx, j, r, index, status)
		}
		out = r.Clone()
		return nil
	})
	return out, err
}

// recordActivity counts a ledger write as activity on a running job.
func (eng *Engine) recordActivity(j *job.Job) {
	if j.Status == job.StatusInProgress {
		j.Touch(eng.clock.Now())
	}
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// Subscribe registers subscriberID for changes to one job. Resubscribing
// with the same ID replaces the previous subscriber.
func (eng *Engine) Subscribe(ctx context.Context, subscriberID string, jobID id.JobID) (*stream.Subscriber, error) {
	if _, err := eng.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return eng.broker.Subscribe(subscriberID, stream.JobTopic(jobID.String())), nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (eng *Engine) Unsubscribe(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}
