package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	audithook "github.com/xraph/cuttrack/audit_hook"
	"github.com/xraph/cuttrack/api"
	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/engine"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/observability"
	"github.com/xraph/cuttrack/stream"
	"github.com/xraph/cuttrack/stream/natsbridge"
)

// ServeCmd runs the HTTP, SSE and DWP server.
type ServeCmd struct {
	Listen  string `help:"Listen address, overrides the config file"`
	Migrate bool   `help:"Apply schema migrations before serving" default:"true" negatable:""`
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := g.Config
	if s.Listen != "" {
		cfg.Listen = s.Listen
	}
	d, err := newDaemon(ctx, cfg, g.Logger, s.Migrate)
	if err != nil {
		return err
	}
	return d.run(ctx)
}

// daemon is one assembled server process.
type daemon struct {
	cfg      *Config
	logger   *slog.Logger
	eng      *engine.Engine
	bridge   *natsbridge.Bridge
	nc       *nats.Conn
	srv      *http.Server
	shutdown time.Duration
}

func newDaemon(ctx context.Context, cfg *Config, logger *slog.Logger, migrate bool) (*daemon, error) {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = id.NewNodeID().String()
	}
	tracking := cfg.TrackingConfig()

	broker := stream.NewBroker(logger,
		stream.WithBufferSize(tracking.SubscriberBuffer),
		stream.WithDefaultCredits(tracking.SubscriberCredits),
		stream.WithNodeID(nodeID),
	)

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []engine.Option{
		engine.WithStore(st),
		engine.WithLogger(logger),
		engine.WithConfig(tracking),
		engine.WithBroker(broker),
		engine.WithNodeID(nodeID),
		engine.WithExtension(observability.NewPrometheusExtension(reg, broker)),
	}
	if cfg.Engine.OpTimeout > 0 {
		opts = append(opts, engine.WithOpTimeout(cfg.Engine.OpTimeout))
	}
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(audithook.New(auditLogger(logger),
			audithook.WithMinSeverity(cfg.AuditSeverity),
			audithook.WithLogger(logger),
		)))
	}
	eng, err := engine.New(opts...)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		eng:      eng,
		shutdown: tracking.ShutdownTimeout,
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("cuttrackd "+nodeID),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", slog.String("error", err.Error()))
				}
			}),
		)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		bopts := []natsbridge.Option{natsbridge.WithLogger(logger)}
		if cfg.NATS.SubjectPrefix != "" {
			bopts = append(bopts, natsbridge.WithSubjectPrefix(cfg.NATS.SubjectPrefix))
		}
		d.nc = nc
		d.bridge = natsbridge.New(nc, broker, bopts...)
	}

	apiOpts := []api.Option{api.WithLogger(logger), api.WithGatherer(reg)}
	if cfg.DWP.Enabled {
		apiOpts = append(apiOpts, api.WithDWP(newDWPServer(eng, cfg.DWP, logger)))
	}
	d.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

func newDWPServer(eng *engine.Engine, cfg DWPConfig, logger *slog.Logger) *dwp.Server {
	var auth dwp.Authenticator = dwp.NoopAuthenticator{}
	if len(cfg.Keys) > 0 {
		entries := make([]dwp.APIKeyEntry, 0, len(cfg.Keys))
		for _, k := range cfg.Keys {
			scopes := k.Scopes
			if len(scopes) == 0 {
				scopes = []string{dwp.ScopeJobRead, dwp.ScopeSubscribe}
			}
			entries = append(entries, dwp.APIKeyEntry{
				Token:    k.Token,
				Digest:   k.TokenSHA256,
				Identity: dwp.Identity{Subject: k.Subject, Scopes: scopes},
			})
		}
		auth = dwp.NewAPIKeyAuthenticator(entries...)
	} else {
		logger.Warn("dwp: no api keys configured, accepting every client")
	}

	opts := []dwp.Option{dwp.WithAuth(auth), dwp.WithLogger(logger)}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		opts = append(opts, dwp.WithRateLimit(rate.Limit(cfg.RateLimit), burst))
	}
	return dwp.NewServer(dwp.NewHandler(eng, logger), opts...)
}

// auditLogger records audit events as structured log lines.
func auditLogger(logger *slog.Logger) audithook.Recorder {
	l := logger.With(slog.String("log", "audit"))
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if evt.Severity != audithook.SeverityInfo {
			level = slog.LevelWarn
		}
		l.LogAttrs(ctx, level, evt.Action,
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("job_id", evt.JobID),
			slog.Int64("version", evt.Version),
			slog.String("outcome", evt.Outcome),
			slog.String("reason", evt.Reason),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

func (d *daemon) run(ctx context.Context) error {
	if err := d.eng.Start(ctx); err != nil {
		return err
	}
	if d.bridge != nil {
		if err := d.bridge.Start(); err != nil {
			return fmt.Errorf("start nats bridge: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.logger.Info("listening", slog.String("addr", d.srv.Addr))
		if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return d.stop()
	})
	return g.Wait()
}

// stop drains HTTP first so no request races the engine shutdown.
func (d *daemon) stop() error {
	d.logger.Info("shutting down", slog.Duration("timeout", d.shutdown))
	ctx, cancel := context.WithTimeout(context.Background(), d.shutdown)
	defer cancel()

	var errs []error
	if err := d.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if d.bridge != nil {
		if err := d.bridge.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("nats bridge: %w", err))
		}
		d.nc.Close()
	}
	if err := d.eng.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	return errors.Join(errs...)
}
