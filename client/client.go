// Package client provides a Go client for a remote cuttrack instance. It
// speaks the cuttrack wire protocol (DWP) over WebSocket, and falls back
// to polling the REST API when the event stream cannot be kept up.
//
// Usage:
//
//	c, err := client.Dial("wss://floor.example.com/dwp",
//	    client.WithToken("ct_..."),
//	    client.WithReconnect(8, backoff.DefaultReconnect()),
//	)
//	defer c.Close()
//
//	j, err := c.StartJob(ctx, jobID)
//	events, err := c.WatchJob(ctx, jobID)
//	for evt := range events {
//	    fmt.Println(evt.Type, evt.Version)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/cuttrack/backoff"
	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/stream"
)

// ErrClosed is returned by requests on a client that was closed or whose
// connection was lost for good.
var ErrClosed = errors.New("cuttrack/client: connection closed")

// errConnLost fails requests that were in flight when the socket dropped.
var errConnLost = errors.New("cuttrack/client: connection lost")

// Client is a DWP client that communicates with a remote cuttrack server.
type Client struct {
	url       string
	token     string
	format    string
	logger    *slog.Logger
	keepalive time.Duration

	// Reconnection.
	reconnect  bool
	maxRetries int
	strategy   backoff.Strategy

	// Connection state.
	codec     dwp.Codec
	conn      net.Conn
	reader    io.Reader
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	errMu  sync.Mutex
	err    error

	// Request-response correlation.
	pending sync.Map // frameID → chan *dwp.Frame

	// Subscriptions.
	subs sync.Map // channel → *subscription
}

// Dial connects to a DWP server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a DWP server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     dwp.CodecNameJSON,
		logger:     slog.Default(),
		keepalive:  30 * time.Second,
		maxRetries: 5,
		strategy:   backoff.DefaultReconnect(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.connect(ctx); err != nil {
		c.cancel()
		return nil, fmt.Errorf("cuttrack/client: dial: %w", err)
	}

	go c.readLoop()
	if c.keepalive > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// connect establishes the WebSocket connection and runs the auth
// handshake. The auth frame is always JSON; the response already uses the
// negotiated codec.
func (c *Client) connect(ctx context.Context) error {
	conn, br, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	var reader io.Reader = conn
	if br != nil {
		reader = io.MultiReader(br, conn)
	}

	authFrame, err := dwp.NewRequestFrame(dwp.GenerateFrameID(), dwp.MethodAuth, dwp.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", err)
	}
	authData, err := json.Marshal(authFrame)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := wsutil.WriteClientText(conn, authData); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", err)
	}

	codec := dwp.GetCodec(c.format)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(dwp.DefaultAuthTimeout))
	}
	resp, err := readFrame(conn, reader, codec)
	if err != nil {
		// An auth rejection is written before codec negotiation, in JSON.
		_ = conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if resp.Type == dwp.FrameErr {
		_ = conn.Close()
		return fmt.Errorf("auth failed: %w", frameError(resp))
	}

	var authResp dwp.AuthResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &authResp); err != nil {
			c.logger.Warn("cuttrack/client: invalid auth response", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.codec = codec
	c.mu.Unlock()
	c.sessionID.Store(authResp.SessionID)

	c.logger.Info("cuttrack/client: connected",
		slog.String("session_id", authResp.SessionID),
		slog.String("format", authResp.Format),
	)
	return nil
}

// readFrame reads one server message and decodes it. Text messages are
// always JSON; binary ones use codec.
func readFrame(conn net.Conn, r io.Reader, codec dwp.Codec) (*dwp.Frame, error) {
	data, op, err := wsutil.ReadServerData(struct {
		io.Reader
		io.Writer
	}{r, conn})
	if err != nil {
		return nil, err
	}
	if op == ws.OpText {
		var f dwp.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil
	}
	return codec.Decode(data)
}

// readLoop reads frames from the WebSocket and routes them until the
// connection is lost for good.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn, reader, codec := c.conn, c.reader, c.codec
		c.mu.Unlock()

		frame, err := readFrame(conn, reader, codec)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("cuttrack/client: read failed", slog.String("error", err.Error()))
			c.failPending()
			if !c.reconnect {
				c.shutdown(fmt.Errorf("%w: %w", errConnLost, err))
				return
			}
			if rerr := c.redial(); rerr != nil {
				c.shutdown(rerr)
				return
			}
			continue
		}
		c.route(frame)
	}
}

func (c *Client) route(frame *dwp.Frame) {
	switch frame.Type {
	case dwp.FrameResponse, dwp.FrameErr:
		if val, ok := c.pending.Load(frame.CorrelID); ok {
			ch := val.(chan *dwp.Frame) //nolint:errcheck // pending map always stores chan *dwp.Frame
			select {
			case ch <- frame:
			default:
			}
		}
	case dwp.FrameEvent:
		var evt stream.Event
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			c.logger.Warn("cuttrack/client: invalid event", slog.String("error", err.Error()))
			return
		}
		if evt.Type == stream.EventResync || frame.Channel == "" {
			c.broadcast(&evt)
			return
		}
		if val, ok := c.subs.Load(frame.Channel); ok {
			val.(*subscription).deliver(&evt) //nolint:errcheck // subs map always stores *subscription
		}
	case dwp.FramePong:
	}
}

// redial reconnects under the retry policy, then restores subscriptions
// and tells every subscriber to resync, since events may have been missed.
func (c *Client) redial() error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	err := backoff.Retry(c.ctx, backoff.Policy{
		Strategy:    c.strategy,
		MaxAttempts: c.maxRetries,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Info("cuttrack/client: reconnecting",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}, func(ctx context.Context, _ int) error {
		return c.connect(ctx)
	})
	if err != nil {
		c.logger.Error("cuttrack/client: giving up on reconnect", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", errConnLost, err)
	}

	// Resubscribe before the read loop resumes; responses are read inline.
	c.subs.Range(func(key, _ any) bool {
		if err := c.resubscribe(key.(string)); err != nil { //nolint:errcheck // subs keys are channel names
			c.logger.Warn("cuttrack/client: resubscribe failed",
				slog.String("channel", key.(string)), //nolint:errcheck // subs keys are channel names
				slog.String("error", err.Error()),
			)
		}
		return true
	})
	c.broadcast(&stream.Event{Type: stream.EventResync, Timestamp: time.Now().UTC()})
	c.logger.Info("cuttrack/client: reconnected")
	return nil
}

// resubscribe sends a subscribe request and reads until its reply. It runs
// while the read loop is paused, so other frames read here are routed.
func (c *Client) resubscribe(channel string) error {
	frame, err := dwp.NewRequestFrame(dwp.GenerateFrameID(), dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: channel})
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}

	c.mu.Lock()
	conn, reader, codec := c.conn, c.reader, c.codec
	c.mu.Unlock()
	_ = conn.SetReadDeadline(time.Now().Add(dwp.DefaultAuthTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		resp, err := readFrame(conn, reader, codec)
		if err != nil {
			return err
		}
		if resp.CorrelID != frame.ID {
			c.route(resp)
			continue
		}
		if resp.Type == dwp.FrameErr {
			return frameError(resp)
		}
		return nil
	}
}

// pingLoop keeps idle connections alive past the server read timeout.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ping := &dwp.Frame{ID: dwp.GenerateFrameID(), Type: dwp.FramePing, Timestamp: time.Now().UTC()}
			if err := c.writeFrame(ping); err != nil {
				c.logger.Debug("cuttrack/client: ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// failPending unblocks requests that were waiting on the dropped socket.
func (c *Client) failPending() {
	c.pending.Range(func(key, val any) bool {
		ch := val.(chan *dwp.Frame) //nolint:errcheck // pending map always stores chan *dwp.Frame
		select {
		case ch <- dwp.NewErrorFrame(key.(string), 0, errConnLost.Error()): //nolint:errcheck // pending keys are frame IDs
		default:
		}
		return true
	})
}

// shutdown records the terminal error, closes every subscription and
// signals Done.
func (c *Client) shutdown(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()

	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	c.subs.Range(func(key, val any) bool {
		val.(*subscription).close() //nolint:errcheck // subs map always stores *subscription
		c.subs.Delete(key)
		return true
	})
	c.failPending()

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	close(c.done)
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*dwp.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	frame, err := dwp.NewRequestFrame(dwp.GenerateFrameID(), method, data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	respCh := make(chan *dwp.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == dwp.FrameErr {
			return nil, frameError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// writeFrame encodes a frame with the session codec and sends it.
func (c *Client) writeFrame(frame *dwp.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	op := ws.OpText
	if c.codec.Binary() {
		op = ws.OpBinary
	}
	return wsutil.WriteClientMessage(c.conn, op, data)
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string {
	s, _ := c.sessionID.Load().(string) //nolint:errcheck // zero value is fine
	return s
}

// Done is closed once the client stops for good: after Close, or when the
// connection dropped and reconnecting was disabled or ran out of attempts.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the client stopped, or nil while it is running or after
// a plain Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}
