package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/cuttrack"
	audithook "github.com/xraph/cuttrack/audit_hook"
	"github.com/xraph/cuttrack/dwp"
)

// Config is the daemon configuration file.
type Config struct {
	Listen string       `yaml:"listen"`
	NodeID string       `yaml:"node_id"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	DWP    DWPConfig    `yaml:"dwp"`
	NATS   NATSConfig   `yaml:"nats"`
	Audit  bool         `yaml:"audit"`
	// AuditSeverity drops audit events below this level: info, warning
	// or critical.
	AuditSeverity string `yaml:"audit_severity"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StoreConfig selects and addresses the job store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, postgres, sqlite, redis
	DSN    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"` // redis key prefix
}

// EngineConfig tunes the engine. Zero values keep the defaults.
type EngineConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	SubscriberCredits int64         `yaml:"subscriber_credits"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	OpTimeout         time.Duration `yaml:"op_timeout"`
}

// DWPConfig configures the WebSocket protocol endpoint.
type DWPConfig struct {
	Enabled   bool       `yaml:"enabled"`
	Keys      []KeyEntry `yaml:"keys"`
	RateLimit float64    `yaml:"rate_limit"` // requests per second per connection, 0 = unlimited
	Burst     int        `yaml:"burst"`
}

// KeyEntry is one API key and the identity it maps to. TokenSHA256 lets
// the file carry a digest instead of the key.
type KeyEntry struct {
	Token       string   `yaml:"token"`
	TokenSHA256 string   `yaml:"token_sha256"`
	Subject     string   `yaml:"subject"`
	Scopes      []string `yaml:"scopes"`
}

// NATSConfig enables cross-node event relay when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "text"},
		Store:  StoreConfig{Driver: "memory"},
		DWP:    DWPConfig{Enabled: true},
	}
}

// LoadConfig reads path, expanding ${VAR} references, then applies
// CUTTRACK_* overrides. A missing file is not an error when optional.
// .env and .env.local are loaded first when present; variables already in
// the environment win.
func LoadConfig(path string, optional bool) (*Config, error) {
	for _, f := range []string{".env", ".env.local"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && optional:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"CUTTRACK_LISTEN":       &c.Listen,
		"CUTTRACK_NODE_ID":      &c.NodeID,
		"CUTTRACK_LOG_LEVEL":    &c.Log.Level,
		"CUTTRACK_LOG_FORMAT":   &c.Log.Format,
		"CUTTRACK_STORE_DRIVER": &c.Store.Driver,
		"CUTTRACK_STORE_DSN":    &c.Store.DSN,
		"CUTTRACK_NATS_URL":     &c.NATS.URL,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("CUTTRACK_IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CUTTRACK_IDLE_TIMEOUT: %w", err)
		}
		c.Engine.IdleTimeout = d
	}
	if v, ok := os.LookupEnv("CUTTRACK_AUDIT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUTTRACK_AUDIT: %w", err)
		}
		c.Audit = b
	}
	// A single key from the environment, for container deployments.
	if tok, ok := os.LookupEnv("CUTTRACK_API_KEY"); ok && tok != "" {
		c.DWP.Keys = append(c.DWP.Keys, KeyEntry{Token: tok, Subject: "env", Scopes: []string{dwp.ScopeAll}})
	}
	return nil
}

// Validate checks the fields a daemon cannot start without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.AuditSeverity {
	case "", audithook.SeverityInfo, audithook.SeverityWarning, audithook.SeverityCritical:
	default:
		return fmt.Errorf("unknown audit_severity %q", c.AuditSeverity)
	}
	for i, k := range c.DWP.Keys {
		if k.Token == "" && k.TokenSHA256 == "" {
			return fmt.Errorf("dwp.keys[%d]: token or token_sha256 is required", i)
		}
		if k.TokenSHA256 != "" && len(k.TokenSHA256) != 64 {
			return fmt.Errorf("dwp.keys[%d]: token_sha256 must be 64 hex characters", i)
		}
	}
	return nil
}

// TrackingConfig merges the engine section over cuttrack.DefaultConfig.
func (c *Config) TrackingConfig() cuttrack.Config {
	out := cuttrack.DefaultConfig()
	e := c.Engine
	if e.IdleTimeout != 0 {
		out.IdleTimeout = e.IdleTimeout
	}
	if e.IdleSweepInterval != 0 {
		out.IdleSweepInterval = e.IdleSweepInterval
	}
	if e.SubscriberBuffer != 0 {
		out.SubscriberBuffer = e.SubscriberBuffer
	}
	if e.SubscriberCredits != 0 {
		out.SubscriberCredits = e.SubscriberCredits
	}
	if e.ShutdownTimeout != 0 {
		out.ShutdownTimeout = e.ShutdownTimeout
	}
	return out
}

func (l LogConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", l.Level)
	}
}

// NewLogger builds the process logger.
func (l LogConfig) NewLogger(verbose bool) *slog.Logger {
	level, err := l.level()
	if err != nil || verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
