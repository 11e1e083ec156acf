package engine

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/ext"
	mw "github.com/xraph/cuttrack/middleware"
	"github.com/xraph/cuttrack/store"
	"github.com/xraph/cuttrack/stream"
)

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig replaces the engine configuration.
func WithConfig(cfg cuttrack.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithClock sets the time source used for timer segments, activity
// tracking and the idle sweep. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware adds middleware to the engine's chain. User middleware
// runs inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBroker supplies an existing broker instead of the one the engine
// creates from Config.
func WithBroker(b *stream.Broker) Option {
	return func(eng *Engine) { eng.broker = b }
}

// WithNodeID stamps events committed by this engine with an origin so
// relays can recognise their own traffic.
func WithNodeID(nodeID string) Option {
	return func(eng *Engine) { eng.nodeID = nodeID }
}

// WithOpTimeout bounds every operation. Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.opTimeout = d }
}

// WithIdleSchedule overrides the idle sweep schedule with a cron
// expression or descriptor such as "@every 30s".
func WithIdleSchedule(expr string) Option {
	return func(eng *Engine) { eng.idleSchedule = expr }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}
