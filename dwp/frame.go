// Package dwp implements the cuttrack wire protocol (DWP), a frame-based
// request/response and event protocol carried over WebSocket, with a
// one-shot HTTP RPC endpoint for simple callers.
//
// A session starts with an auth frame, always JSON, which may negotiate a
// binary codec for the rest of the connection. Requests are answered by a
// response or error frame carrying the request ID in CorrelID. Change
// events arrive as event frames on the channel they were published to.
package dwp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the envelope of every DWP message. Which fields are set
// depends on Type: requests carry Method and Data, replies carry CorrelID
// plus Data or Error, events carry Channel and Data.
type Frame struct {
	ID       string          `json:"id" msgpack:"id"`
	Type     FrameType       `json:"type" msgpack:"type"`
	Method   string          `json:"method,omitempty" msgpack:"method,omitempty"`
	CorrelID string          `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`
	Token    string          `json:"token,omitempty" msgpack:"token,omitempty"` // auth frame only
	Data     json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	Error    *ErrorDetail    `json:"error,omitempty" msgpack:"error,omitempty"`
	Channel  string          `json:"channel,omitempty" msgpack:"channel,omitempty"`
	// Credits tops up the sender's event budget when flow control is on.
	Credits   int       `json:"credits,omitempty" msgpack:"credits,omitempty"`
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	MethodAuth = "auth"

	MethodJobCreate   = "job.create"
	MethodJobGet      = "job.get"
	MethodJobList     = "job.list"
	MethodJobStart    = "job.start"
	MethodJobPause    = "job.pause"
	MethodJobComplete = "job.complete"
	MethodJobStop     = "job.stop"
	MethodJobTouch    = "job.touch"
	MethodJobDelete   = "job.delete"

	MethodSheetSet      = "sheet.set"
	MethodRecutAdd      = "recut.add"
	MethodRecutSheetSet = "recut.sheet.set"

	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	MethodStats = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest      = 400
	ErrCodeUnauthorized    = 401
	ErrCodeForbidden       = 403
	ErrCodeNotFound        = 404
	ErrCodeMethodNotFound  = 405
	ErrCodeConflict        = 409
	ErrCodeTooManyRequests = 429
	ErrCodeInternal        = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	JobID string `json:"job_id"`
}

// JobListRequest pages through jobs.
type JobListRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SheetSetRequest sets the status of one material sheet.
type SheetSetRequest struct {
	MaterialID string `json:"material_id"`
	Index      int    `json:"index"`
	Status     string `json:"status"`
}

// RecutAddRequest records additional sheets to recut.
type RecutAddRequest struct {
	MaterialID string `json:"material_id"`
	Quantity   int    `json:"quantity"`
}

// RecutSheetSetRequest sets the status of one recut sheet.
type RecutSheetSetRequest struct {
	RecutID string `json:"recut_id"`
	Index   int    `json:"index"`
	Status  string `json:"status"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // added to the connection's credits
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// SubscribeResponse acknowledges subscribe and unsubscribe.
type SubscribeResponse struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
}

func newFrame(id string, typ FrameType) *Frame {
	return &Frame{ID: id, Type: typ, Timestamp: time.Now().UTC()}
}

// withData marshals payload into f.Data. A nil payload leaves Data empty.
func (f *Frame) withData(payload any) (*Frame, error) {
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dwp: encode %s payload: %w", f.Type, err)
	}
	f.Data = raw
	return f, nil
}

// NewRequestFrame builds a request for method.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	f := newFrame(id, FrameRequest)
	f.Method = method
	return f.withData(data)
}

// NewResponseFrame builds the successful reply to request correlID.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	f := newFrame(GenerateFrameID(), FrameResponse)
	f.CorrelID = correlID
	return f.withData(data)
}

// NewErrorFrame builds the failed reply to request correlID.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	f := newFrame(GenerateFrameID(), FrameErr)
	f.CorrelID = correlID
	f.Error = &ErrorDetail{Code: code, Message: message}
	return f
}

// NewEventFrame builds an event delivered on channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	f := newFrame(GenerateFrameID(), FrameEvent)
	f.Channel = channel
	return f.withData(data)
}

// GenerateFrameID returns a random UUID.
func GenerateFrameID() string { return uuid.NewString() }
