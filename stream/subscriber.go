package stream

import (
	"sync"
	"sync/atomic"
)

// Unlimited disables credit-based flow control for a subscriber.
const Unlimited int64 = -1

// Subscriber receives events from topics it is subscribed to.
//
// Delivery is non-blocking. When the buffer is full, or the subscriber
// ran out of flow-control credits, the event is dropped and the
// subscriber is marked lagged. Transports check TakeLagged and tell the
// viewer to refetch its snapshot.
type Subscriber struct {
	id string

	ch chan *Event

	// credits tracks remaining flow-control credits. Unlimited disables
	// the check.
	credits atomic.Int64

	topics map[string]struct{}
	mu     sync.RWMutex

	// filter is an optional predicate. If set, only events matching the
	// filter are delivered.
	filter atomic.Pointer[func(*Event) bool]

	lagged  atomic.Bool
	dropped atomic.Int64
	closed  atomic.Bool

	// sendMu orders concurrent sends against Close.
	sendMu sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credits. Pass Unlimited to disable flow control.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the
// subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits. No-op for unlimited
// subscribers.
func (s *Subscriber) AddCredits(n int64) {
	for {
		cur := s.credits.Load()
		if cur < 0 {
			return
		}
		if s.credits.CompareAndSwap(cur, cur+n) {
			return
		}
	}
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter sets an optional event filter predicate.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

// TakeLagged reports whether events were dropped since the last call and
// clears the flag.
func (s *Subscriber) TakeLagged() bool { return s.lagged.Swap(false) }

// Dropped returns the number of events dropped for this subscriber.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool { return s.closed.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event. It returns false when the event was
// filtered out or dropped.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closed.Load() {
		return false
	}

	if fp := s.filter.Load(); fp != nil && !(*fp)(evt) {
		return false
	}

	if !s.takeCredit() {
		s.drop()
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.AddCredits(1)
		s.drop()
		return false
	}
}

func (s *Subscriber) takeCredit() bool {
	for {
		cur := s.credits.Load()
		if cur < 0 {
			return true
		}
		if cur == 0 {
			return false
		}
		if s.credits.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (s *Subscriber) drop() {
	s.dropped.Add(1)
	s.lagged.Store(true)
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
