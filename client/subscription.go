package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/stream"
)

// subscriptionBuffer is the number of events held per subscription before
// the client starts dropping and flags a resync.
const subscriptionBuffer = 64

// subscription is the local end of one subscribed channel.
type subscription struct {
	mu     sync.Mutex
	ch     chan *stream.Event
	lagged bool
	closed bool
}

func newSubscription() *subscription {
	return &subscription{ch: make(chan *stream.Event, subscriptionBuffer)}
}

// deliver never blocks the read loop. When the buffer is full the event is
// dropped and the next delivered event is preceded by a resync.
func (s *subscription) deliver(evt *stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.lagged && evt.Type != stream.EventResync {
		select {
		case s.ch <- &stream.Event{Type: stream.EventResync, Topic: evt.Topic, Timestamp: time.Now().UTC()}:
			s.lagged = false
		default:
			return
		}
	}
	select {
	case s.ch <- evt:
		if evt.Type == stream.EventResync {
			s.lagged = false
		}
	default:
		s.lagged = true
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// broadcast delivers evt to every subscription.
func (c *Client) broadcast(evt *stream.Event) {
	c.subs.Range(func(_, val any) bool {
		val.(*subscription).deliver(evt) //nolint:errcheck // subs map always stores *subscription
		return true
	})
}

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when Unsubscribe is called or the client stops for
// good. An event of type stream.EventResync means events were missed and
// the receiver should refetch state.
//
// Topics:
//   - "job:<jobID>"  events for a single job
//   - "jobs"         lifecycle events of every job
//   - "firehose"     everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	if _, ok := c.subs.Load(channel); ok {
		return nil, fmt.Errorf("cuttrack/client: already subscribed to %q", channel)
	}
	sub := newSubscription()
	// Register before the request so events racing the response are kept.
	c.subs.Store(channel, sub)

	if _, err := c.request(ctx, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: channel}); err != nil {
		c.subs.Delete(channel)
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}
	return sub.ch, nil
}

// Unsubscribe removes a subscription. The local channel is closed even if
// the server request fails.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, dwp.MethodUnsubscribe, dwp.UnsubscribeRequest{Channel: channel})
	if val, ok := c.subs.LoadAndDelete(channel); ok {
		val.(*subscription).close() //nolint:errcheck // subs map always stores *subscription
	}
	return err
}

// WatchJob subscribes to the events of one job. The server rejects unknown
// jobs with a not-found error.
func (c *Client) WatchJob(ctx context.Context, jobID id.JobID) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.JobTopic(jobID.String()))
}

// Stats retrieves broker and connection statistics from the server.
func (c *Client) Stats(ctx context.Context) (*dwp.StatsResponse, error) {
	return call[dwp.StatsResponse](ctx, c, dwp.MethodStats, nil)
}
