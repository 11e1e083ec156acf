package dwp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/xraph/cuttrack/stream"
)

// errNoTransport is returned by Send on connections without a socket,
// such as the ones built for HTTP RPC calls.
var errNoTransport = errors.New("dwp: connection has no transport")

// Connection is one authenticated DWP session. Its ID doubles as the
// broker subscriber ID.
type Connection struct {
	ID          string
	Identity    *Identity
	Codec       Codec
	ConnectedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the last frame received

	raw     net.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter

	mu       sync.RWMutex
	channels map[string]struct{}
}

// NewConnection creates a connection with no transport attached.
func NewConnection(id string, identity *Identity, codec Codec) *Connection {
	now := time.Now().UTC()
	c := &Connection{
		ID:          id,
		Identity:    identity,
		Codec:       codec,
		ConnectedAt: now,
		channels:    make(map[string]struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Touch records that a frame arrived.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen is when the last frame arrived.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load()).UTC()
}

// Allow reports whether the connection may issue another request under
// its rate limit. Connections without a limit always may.
func (c *Connection) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Send encodes frame with the connection codec and writes it as a single
// WebSocket message. Safe for concurrent use.
func (c *Connection) Send(frame *Frame) error {
	if c.raw == nil {
		return errNoTransport
	}
	data, err := c.Codec.Encode(frame)
	if err != nil {
		return err
	}
	op := ws.OpText
	if c.Codec.Binary() {
		op = ws.OpBinary
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.raw, op, data)
}

// readMessage returns the next data message from the client. Control
// frames are answered in between; their replies go through the write lock
// so they never interleave with Send.
func (c *Connection) readMessage() ([]byte, ws.OpCode, error) {
	var reply bytes.Buffer
	control := func(h ws.Header, r io.Reader) error {
		reply.Reset()
		err := wsutil.ControlFrameHandler(&reply, ws.StateServerSide)(h, r)
		if reply.Len() > 0 {
			c.writeMu.Lock()
			_, werr := c.raw.Write(reply.Bytes())
			c.writeMu.Unlock()
			if err == nil {
				err = werr
			}
		}
		return err
	}

	rd := wsutil.Reader{
		Source:         c.raw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, 0, err
			}
			continue
		}
		data, err := io.ReadAll(&rd)
		return data, hdr.OpCode, err
	}
}

// AddSubscription records a channel subscription.
func (c *Connection) AddSubscription(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

// RemoveSubscription forgets a channel subscription.
func (c *Connection) RemoveSubscription(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// Subscribed reports whether the connection is subscribed to channel.
func (c *Connection) Subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// watchedJobs returns the job IDs of the job channels this connection
// follows.
func (c *Connection) watchedJobs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var jobs []string
	for ch := range c.channels {
		if jobID, ok := stream.TopicJobID(ch); ok {
			jobs = append(jobs, jobID)
		}
	}
	return jobs
}

// ConnectionManager tracks live WebSocket sessions.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Add registers conn.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	delete(cm.conns, connID)
	cm.mu.Unlock()
}

// Count returns the number of live sessions.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// Viewers counts, per job ID, the sessions subscribed to that job's
// channel.
func (cm *ConnectionManager) Viewers() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range cm.conns {
		for _, jobID := range c.watchedJobs() {
			out[jobID]++
		}
	}
	return out
}
