// Package natsbridge relays change events between cuttrack nodes over
// NATS core subjects. Each node publishes the events it committed to
// "<prefix>.<jobID>" and injects events from other nodes into its local
// broker, so a viewer connected to any node sees every change.
//
// Delivery is best effort, like the broker itself: there is no replay and
// a node that misses a message relies on viewers refetching snapshots.
package natsbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/xraph/cuttrack/stream"
)

// DefaultSubjectPrefix is the subject namespace used when none is set.
const DefaultSubjectPrefix = "cuttrack.events"

// controlSubject carries events without a job, such as resync.
const controlSubject = "_control"

// ErrNoNodeID is returned by Start when the broker has no node ID; without
// one a node cannot recognise its own relayed events.
var ErrNoNodeID = errors.New("natsbridge: broker has no node id")

// Option configures a Bridge.
type Option func(*Bridge)

// WithSubjectPrefix sets the subject namespace.
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge connects a stream.Broker to a NATS connection.
type Bridge struct {
	conn   *nats.Conn
	broker *stream.Broker
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	sub     *nats.Subscription
	running atomic.Bool

	relayed  atomic.Int64
	injected atomic.Int64
	skipped  atomic.Int64
}

// New creates a bridge. Call Start to begin relaying.
func New(conn *nats.Conn, broker *stream.Broker, opts ...Option) *Bridge {
	b := &Bridge{
		conn:   conn,
		broker: broker,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject returns the subject events of jobID are published on.
func (b *Bridge) Subject(jobID string) string {
	if jobID == "" {
		return b.prefix + "." + controlSubject
	}
	return b.prefix + "." + jobID
}

// Start registers the broker relay and subscribes to remote events.
func (b *Bridge) Start() error {
	if b.broker.NodeID() == "" {
		return ErrNoNodeID
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}

	sub, err := b.conn.Subscribe(b.prefix+".>", b.handle)
	if err != nil {
		return fmt.Errorf("natsbridge: subscribe: %w", err)
	}
	b.sub = sub

	// Relays cannot be removed from the broker; Stop flips running instead.
	if b.running.CompareAndSwap(false, true) {
		b.broker.AddRelay(b.relay)
	}

	b.logger.Info("nats bridge started",
		slog.String("subject", b.prefix+".>"),
		slog.String("node_id", b.broker.NodeID()),
	)
	return nil
}

// Stop unsubscribes and stops relaying local events. Pending outbound
// messages are flushed.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.running.Store(false)
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	if flushErr := b.conn.Flush(); err == nil {
		err = flushErr
	}
	return err
}

// Stats reports relay counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Relayed:  b.relayed.Load(),
		Injected: b.injected.Load(),
		Skipped:  b.skipped.Load(),
	}
}

// Stats holds bridge counters.
type Stats struct {
	Relayed  int64 `json:"relayed"`
	Injected int64 `json:"injected"`
	Skipped  int64 `json:"skipped"`
}

// relay publishes a locally committed event. It runs inside
// Broker.Publish, which the engine calls under the job lock, so it must
// not block; nats.Conn.Publish only buffers.
func (b *Bridge) relay(evt *stream.Event) {
	if !b.running.Load() {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("nats bridge: encode event", slog.String("error", err.Error()))
		return
	}
	if err := b.conn.Publish(b.Subject(evt.JobID), data); err != nil {
		b.logger.Warn("nats bridge: publish failed",
			slog.String("job_id", evt.JobID),
			slog.String("error", err.Error()),
		)
		return
	}
	b.relayed.Add(1)
}

// handle injects an event received from NATS unless this node sent it.
func (b *Bridge) handle(msg *nats.Msg) {
	var evt stream.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		b.logger.Warn("nats bridge: invalid event",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	if evt.Origin == b.broker.NodeID() {
		b.skipped.Add(1)
		return
	}
	b.broker.Inject(&evt)
	b.injected.Add(1)
}
