// Package observability provides metrics extensions for cuttrack.
// MetricsExtension records lifecycle counters through OpenTelemetry;
// PrometheusExtension records the same lifecycle on a Prometheus registry
// together with live broker gauges for scraping at /metrics.
//
// For per-operation tracing and latency, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
