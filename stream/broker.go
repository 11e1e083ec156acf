package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/cuttrack/ext"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension               = (*Broker)(nil)
	_ ext.JobCreated              = (*Broker)(nil)
	_ ext.JobStarted              = (*Broker)(nil)
	_ ext.JobPaused               = (*Broker)(nil)
	_ ext.JobCompleted            = (*Broker)(nil)
	_ ext.JobDeleted              = (*Broker)(nil)
	_ ext.SheetStatusChanged      = (*Broker)(nil)
	_ ext.RecutAdded              = (*Broker)(nil)
	_ ext.RecutSheetStatusChanged = (*Broker)(nil)
	_ ext.Shutdown                = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// RelayFunc receives every event committed on this node after local
// delivery. Relays forward events to other nodes.
type RelayFunc func(evt *Event)

// Broker is the change broadcaster. It implements the ext hooks to receive
// committed mutations and fans them out to subscribers via topic-based
// pub/sub. A Broker lives as long as the process that owns it;
// subscribers join and leave explicitly.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	relayMu sync.RWMutex
	relays  []RelayFunc

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalPruned    atomic.Int64

	bufferSize     int
	defaultCredits int64
	nodeID         string
	now            func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithDefaultCredits sets the initial credits for new subscribers. Zero
// or negative means unlimited.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) {
		if credits <= 0 {
			credits = Unlimited
		}
		b.defaultCredits = credits
	}
}

// WithNodeID stamps events committed on this node with an origin.
func WithNodeID(nodeID string) BrokerOption {
	return func(b *Broker) { b.nodeID = nodeID }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: Unlimited,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// NodeID returns the origin stamped on locally committed events.
func (b *Broker) NodeID() string { return b.nodeID }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics. An existing
// subscriber with the same ID is closed and replaced.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	b.RemoveSubscriber(subscriberID)

	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics. It
// reports false when the subscriber is unknown.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return true
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// AddRelay registers fn to receive every locally committed event.
func (b *Broker) AddRelay(fn RelayFunc) {
	b.relayMu.Lock()
	b.relays = append(b.relays, fn)
	b.relayMu.Unlock()
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	var count int
	var dropped int64
	b.subscribers.Range(func(_, v any) bool {
		count++
		dropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDelivered:  b.totalDelivered.Load(),
		TotalDropped:    dropped,
		TotalPruned:     b.totalPruned.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDelivered  int64 `json:"total_delivered"`
	TotalDropped    int64 `json:"total_dropped"`
	TotalPruned     int64 `json:"total_pruned"`
}

// Publish stamps and delivers a locally committed event, then hands it to
// every relay.
func (b *Broker) Publish(evt *Event) {
	if evt.ID == "" {
		evt.ID = id.NewEventID().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	if evt.Origin == "" {
		evt.Origin = b.nodeID
	}
	b.deliver(evt)

	b.relayMu.RLock()
	relays := b.relays
	b.relayMu.RUnlock()
	for _, fn := range relays {
		fn(evt)
	}
}

// Inject delivers an event committed on another node. Relays are not
// invoked.
func (b *Broker) Inject(evt *Event) {
	b.deliver(evt)
}

func (b *Broker) deliver(evt *Event) {
	delivered, pruned := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(1)
	b.totalDelivered.Add(int64(delivered))
	for _, subID := range pruned {
		b.subscribers.Delete(subID)
	}
	if n := len(pruned); n > 0 {
		b.totalPruned.Add(int64(n))
		b.logger.Debug("pruned closed subscribers", slog.Int("count", n))
	}
	if evt.Type == EventJobDeleted && evt.Topic != "" {
		b.topics.DropTopic(evt.Topic)
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func (b *Broker) jobEvent(j *job.Job) *Event {
	return &Event{
		Type:    EventJobUpdated,
		Topic:   JobTopic(j.ID.String()),
		JobID:   j.ID.String(),
		Version: j.Version,
		Data: mustMarshal(JobEventData{
			JobID:           j.ID.String(),
			Name:            j.Name,
			Status:          string(j.Status),
			PauseReason:     string(j.PauseReason),
			TotalDurationMs: j.Timer.Total.Milliseconds(),
			TimerStartedAt:  j.Timer.StartedAt,
		}),
	}
}

// ── Job hooks ───────────────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (b *Broker) OnJobCreated(_ context.Context, j *job.Job) error {
	b.Publish(b.jobEvent(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.Publish(b.jobEvent(j))
	return nil
}

// OnJobPaused implements ext.JobPaused.
func (b *Broker) OnJobPaused(_ context.Context, j *job.Job, _ job.PauseReason) error {
	b.Publish(b.jobEvent(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	b.Publish(b.jobEvent(j))
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (b *Broker) OnJobDeleted(_ context.Context, jobID id.JobID) error {
	b.Publish(&Event{
		Type:  EventJobDeleted,
		Topic: JobTopic(jobID.String()),
		JobID: jobID.String(),
	})
	return nil
}

// ── Ledger hooks ────────────────────────────────────

// OnSheetStatusChanged implements ext.SheetStatusChanged.
func (b *Broker) OnSheetStatusChanged(_ context.Context, j *job.Job, m *ledger.Material, index int, status ledger.SheetStatus) error {
	b.Publish(&Event{
		Type:    EventMaterialUpdated,
		Topic:   JobTopic(j.ID.String()),
		JobID:   j.ID.String(),
		Version: j.Version,
		Data: mustMarshal(MaterialEventData{
			JobID:           j.ID.String(),
			MaterialID:      m.ID.String(),
			SheetIndex:      index,
			Status:          string(status),
			CompletedSheets: m.CompletedSheets(),
			TotalSheets:     m.TotalSheets,
		}),
	})
	return nil
}

// OnRecutAdded implements ext.RecutAdded.
func (b *Broker) OnRecutAdded(_ context.Context, j *job.Job, r *ledger.RecutEntry, added int) error {
	b.Publish(&Event{
		Type:    EventRecutAdded,
		Topic:   JobTopic(j.ID.String()),
		JobID:   j.ID.String(),
		Version: j.Version,
		Data: mustMarshal(RecutEventData{
			JobID:           j.ID.String(),
			MaterialID:      r.MaterialID.String(),
			RecutID:         r.ID.String(),
			Quantity:        r.Quantity,
			Added:           added,
			CompletedSheets: r.CompletedSheets(),
		}),
	})
	return nil
}

// OnRecutSheetStatusChanged implements ext.RecutSheetStatusChanged.
func (b *Broker) OnRecutSheetStatusChanged(_ context.Context, j *job.Job, r *ledger.RecutEntry, index int, status ledger.SheetStatus) error {
	b.Publish(&Event{
		Type:    EventRecutUpdated,
		Topic:   JobTopic(j.ID.String()),
		JobID:   j.ID.String(),
		Version: j.Version,
		Data: mustMarshal(RecutEventData{
			JobID:           j.ID.String(),
			MaterialID:      r.MaterialID.String(),
			RecutID:         r.ID.String(),
			Quantity:        r.Quantity,
			SheetIndex:      &index,
			Status:          string(status),
			CompletedSheets: r.CompletedSheets(),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, _ any) bool {
		b.RemoveSubscriber(key.(string)) //nolint:errcheck // keys are always strings
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
