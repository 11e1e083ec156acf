package dwp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/stream"
)

// Defaults for server timeouts.
const (
	DefaultAuthTimeout      = 10 * time.Second
	DefaultReadTimeout      = 2 * time.Minute
	DefaultLagCheckInterval = time.Second

	maxRPCBodyBytes int64 = 1 << 20
)

// Server is the DWP server. It upgrades HTTP requests to WebSocket
// sessions and serves one-shot HTTP RPC calls. Events reach sessions
// through one broker subscriber per connection.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger

	rateLimit   rate.Limit
	rateBurst   int
	readTimeout time.Duration
	authTimeout time.Duration
	lagCheck    time.Duration
}

// NewServer creates a new DWP server around handler.
func NewServer(handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       handler.broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		readTimeout:  DefaultReadTimeout,
		authTimeout:  DefaultAuthTimeout,
		lagCheck:     DefaultLagCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = NoopAuthenticator{}
	}
	handler.conns = s.conns
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// ServeHTTP upgrades the request to a WebSocket session and serves it
// until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("dwp: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer raw.Close()

	connID := id.NewSubscriberID().String()
	conn := NewConnection(connID, nil, s.defaultCodec)
	conn.raw = raw
	if s.rateLimit > 0 {
		conn.limiter = rate.NewLimiter(s.rateLimit, max(s.rateBurst, 1))
	}

	// The request context of a hijacked connection outlives the socket.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if err := s.serve(ctx, conn); err != nil && !isClosed(err) {
		s.logger.Warn("dwp: session ended",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
		)
	}
}

// serve runs the auth handshake and the frame loop for one connection.
func (s *Server) serve(ctx context.Context, conn *Connection) error {
	s.logger.Info("dwp: websocket connected", slog.String("conn_id", conn.ID))

	if err := s.authenticate(ctx, conn); err != nil {
		return err
	}

	s.conns.Add(conn)
	sub := s.broker.Subscribe(conn.ID)
	defer func() {
		s.broker.RemoveSubscriber(conn.ID)
		s.conns.Remove(conn.ID)
		s.logger.Info("dwp: websocket disconnected", slog.String("conn_id", conn.ID))
	}()

	go s.forwardEvents(ctx, conn, sub)

	for {
		if s.readTimeout > 0 {
			_ = conn.raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		data, _, err := conn.readMessage()
		if err != nil {
			return err
		}
		conn.Touch()

		frame, decErr := conn.Codec.Decode(data)
		if decErr != nil {
			s.send(conn, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		switch {
		case frame.Type == FramePing:
			s.send(conn, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: time.Now().UTC(),
			})
			continue
		case frame.Method == "" && frame.Credits > 0:
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		if !conn.Allow() {
			s.send(conn, NewErrorFrame(frame.ID, ErrCodeTooManyRequests, "rate limit exceeded"))
			continue
		}
		if !conn.Identity.Allows(frame.Method) {
			s.send(conn, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
			continue
		}

		if resp := s.handler.Handle(ctx, frame, conn); resp != nil {
			s.send(conn, resp)
		}
	}
}

// authenticate reads the auth frame, which is always JSON, and negotiates
// the codec for the rest of the session.
func (s *Server) authenticate(ctx context.Context, conn *Connection) error {
	if s.authTimeout > 0 {
		_ = conn.raw.SetReadDeadline(time.Now().Add(s.authTimeout))
	}
	data, _, err := conn.readMessage()
	if err != nil {
		return fmt.Errorf("dwp: read auth frame: %w", err)
	}

	var authFrame Frame
	if err := json.Unmarshal(data, &authFrame); err != nil {
		s.send(conn, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("dwp: unmarshal auth frame: %w", err)
	}
	if authFrame.Method != MethodAuth {
		s.send(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("dwp: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			s.send(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return fmt.Errorf("dwp: unmarshal auth data: %w", err)
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		s.send(conn, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("dwp: auth failed: %w", err)
	}
	conn.Identity = identity

	if authReq.Format != "" {
		conn.Codec = GetCodec(authReq.Format)
	}
	resp, err := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    conn.Codec.Name(),
		SessionID: conn.ID,
	})
	if err != nil {
		return fmt.Errorf("dwp: marshal auth response: %w", err)
	}
	if err := conn.Send(resp); err != nil {
		return err
	}

	s.logger.Info("dwp: authenticated",
		slog.String("conn_id", conn.ID),
		slog.String("subject", identity.Subject),
		slog.String("codec", conn.Codec.Name()),
	)
	return nil
}

// forwardEvents writes broker events to the connection. When the
// subscriber dropped events it sends a resync event first so the client
// refetches its snapshot.
func (s *Server) forwardEvents(ctx context.Context, conn *Connection, sub *stream.Subscriber) {
	ticker := time.NewTicker(s.lagCheck)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if sub.TakeLagged() && !s.sendResync(conn) {
				return
			}
			evtFrame, err := NewEventFrame(evt.Topic, evt)
			if err != nil {
				continue
			}
			if conn.Send(evtFrame) != nil {
				return // Connection gone.
			}
		case <-ticker.C:
			if sub.TakeLagged() && !s.sendResync(conn) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendResync(conn *Connection) bool {
	evt := &stream.Event{
		ID:        GenerateFrameID(),
		Type:      stream.EventResync,
		Timestamp: time.Now().UTC(),
	}
	frame, err := NewEventFrame("", evt)
	if err != nil {
		return true
	}
	s.logger.Debug("dwp: subscriber lagged, sending resync", slog.String("conn_id", conn.ID))
	return conn.Send(frame) == nil
}

func (s *Server) send(conn *Connection, frame *Frame) {
	if err := conn.Send(frame); err != nil {
		s.logger.Warn("dwp: write frame failed",
			slog.String("conn_id", conn.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RPCHandler serves one-shot HTTP RPC requests. The request body is a
// JSON request frame; the token comes from the frame or from an
// "Authorization: Bearer" header.
func (s *Server) RPCHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONFrame(w, http.StatusMethodNotAllowed, NewErrorFrame("", ErrCodeMethodNotFound, "method not allowed"))
			return
		}

		var frame Frame
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)).Decode(&frame); err != nil {
			writeJSONFrame(w, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
			return
		}

		token := frame.Token
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		identity, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeJSONFrame(w, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
			return
		}
		if !identity.Allows(frame.Method) {
			writeJSONFrame(w, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
			return
		}

		conn := NewConnection("rpc-"+GenerateFrameID(), identity, &JSONCodec{})
		resp := s.handler.Handle(r.Context(), &frame, conn)

		status := http.StatusOK
		if resp.Type == FrameErr && resp.Error != nil {
			status = resp.Error.Code
			if status < 100 || status > 599 {
				status = http.StatusInternalServerError
			}
		}
		writeJSONFrame(w, status, resp)
	})
}

func writeJSONFrame(w http.ResponseWriter, status int, frame *Frame) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(frame)
}

// isClosed reports whether err is an ordinary end of session.
func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
