package observability

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
	"github.com/xraph/cuttrack/stream"
)

// Compile-time interface checks.
var (
	_ ext.Extension               = (*PrometheusExtension)(nil)
	_ ext.JobStarted              = (*PrometheusExtension)(nil)
	_ ext.JobPaused               = (*PrometheusExtension)(nil)
	_ ext.JobCompleted            = (*PrometheusExtension)(nil)
	_ ext.SheetStatusChanged      = (*PrometheusExtension)(nil)
	_ ext.RecutAdded              = (*PrometheusExtension)(nil)
	_ ext.RecutSheetStatusChanged = (*PrometheusExtension)(nil)
)

// PrometheusExtension records job lifecycle counters on a Prometheus
// registry. When given a broker it also exports subscriber and delivery
// gauges read at scrape time.
type PrometheusExtension struct {
	once         sync.Once
	transitions  *prom.CounterVec
	jobDuration  prom.Histogram
	sheetUpdates *prom.CounterVec
	recutSheets  prom.Counter
}

// NewPrometheusExtension constructs and registers the collectors. A nil
// registry gets a private one; a nil broker skips the broker gauges.
func NewPrometheusExtension(reg *prom.Registry, broker *stream.Broker) *PrometheusExtension {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pe := &PrometheusExtension{}
	pe.once.Do(func() {
		pe.transitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cuttrack",
			Name:      "job_transitions_total",
			Help:      "Job status transitions by target status and pause reason",
		}, []string{"status", "reason"})
		pe.jobDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "cuttrack",
			Name:      "job_work_seconds",
			Help:      "Accumulated work time of completed jobs",
			Buckets:   prom.ExponentialBuckets(60, 2, 12),
		})
		pe.sheetUpdates = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cuttrack",
			Name:      "sheet_updates_total",
			Help:      "Sheet status writes by ledger and status",
		}, []string{"ledger", "status"})
		pe.recutSheets = prom.NewCounter(prom.CounterOpts{
			Namespace: "cuttrack",
			Name:      "recut_sheets_total",
			Help:      "Sheets added through recuts",
		})
		reg.MustRegister(pe.transitions, pe.jobDuration, pe.sheetUpdates, pe.recutSheets)

		if broker != nil {
			reg.MustRegister(newBrokerCollector(broker))
		}
	})
	return pe
}

// Name implements ext.Extension.
func (p *PrometheusExtension) Name() string { return "observability-prometheus" }

// OnJobStarted implements ext.JobStarted.
func (p *PrometheusExtension) OnJobStarted(_ context.Context, _ *job.Job) error {
	p.transitions.WithLabelValues(string(job.StatusInProgress), "").Inc()
	return nil
}

// OnJobPaused implements ext.JobPaused.
func (p *PrometheusExtension) OnJobPaused(_ context.Context, _ *job.Job, reason job.PauseReason) error {
	p.transitions.WithLabelValues(string(job.StatusPaused), string(reason)).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (p *PrometheusExtension) OnJobCompleted(_ context.Context, _ *job.Job, elapsed time.Duration) error {
	p.transitions.WithLabelValues(string(job.StatusDone), "").Inc()
	p.jobDuration.Observe(elapsed.Seconds())
	return nil
}

// OnSheetStatusChanged implements ext.SheetStatusChanged.
func (p *PrometheusExtension) OnSheetStatusChanged(_ context.Context, _ *job.Job, _ *ledger.Material, _ int, status ledger.SheetStatus) error {
	p.sheetUpdates.WithLabelValues("material", string(status)).Inc()
	return nil
}

// OnRecutAdded implements ext.RecutAdded.
func (p *PrometheusExtension) OnRecutAdded(_ context.Context, _ *job.Job, _ *ledger.RecutEntry, added int) error {
	p.recutSheets.Add(float64(added))
	return nil
}

// OnRecutSheetStatusChanged implements ext.RecutSheetStatusChanged.
func (p *PrometheusExtension) OnRecutSheetStatusChanged(_ context.Context, _ *job.Job, _ *ledger.RecutEntry, _ int, status ledger.SheetStatus) error {
	p.sheetUpdates.WithLabelValues("recut", string(status)).Inc()
	return nil
}

// brokerCollector reads broker statistics at scrape time.
type brokerCollector struct {
	broker      *stream.Broker
	subscribers *prom.Desc
	topics      *prom.Desc
	published   *prom.Desc
	delivered   *prom.Desc
	pruned      *prom.Desc
	dropped     *prom.Desc
}

func newBrokerCollector(b *stream.Broker) *brokerCollector {
	return &brokerCollector{
		broker:      b,
		subscribers: prom.NewDesc("cuttrack_stream_subscribers", "Live change subscribers", nil, nil),
		topics:      prom.NewDesc("cuttrack_stream_topics", "Topics with at least one subscriber", nil, nil),
		published:   prom.NewDesc("cuttrack_stream_published_total", "Events published by the broker", nil, nil),
		delivered:   prom.NewDesc("cuttrack_stream_delivered_total", "Event deliveries to subscribers", nil, nil),
		pruned:      prom.NewDesc("cuttrack_stream_pruned_total", "Closed subscribers pruned during broadcast", nil, nil),
		dropped:     prom.NewDesc("cuttrack_stream_dropped", "Events dropped by live subscribers on overflow", nil, nil),
	}
}

func (c *brokerCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.subscribers
	ch <- c.topics
	ch <- c.published
	ch <- c.delivered
	ch <- c.pruned
	ch <- c.dropped
}

func (c *brokerCollector) Collect(ch chan<- prom.Metric) {
	s := c.broker.Stats()
	ch <- prom.MustNewConstMetric(c.subscribers, prom.GaugeValue, float64(s.SubscriberCount))
	ch <- prom.MustNewConstMetric(c.topics, prom.GaugeValue, float64(s.TopicCount))
	ch <- prom.MustNewConstMetric(c.published, prom.CounterValue, float64(s.TotalPublished))
	ch <- prom.MustNewConstMetric(c.delivered, prom.CounterValue, float64(s.TotalDelivered))
	ch <- prom.MustNewConstMetric(c.pruned, prom.CounterValue, float64(s.TotalPruned))
	ch <- prom.MustNewConstMetric(c.dropped, prom.GaugeValue, float64(s.TotalDropped))
}
