package dwp

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes frames for one connection. The auth frame is always
// JSON; the codec it negotiates applies to every later frame.
type Codec interface {
	Encode(frame *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
	// Name is the format clients ask for in AuthRequest.Format.
	Name() string
	// Binary reports whether frames travel as binary WebSocket messages.
	Binary() bool
}

// Negotiable formats.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns the codec for a negotiated format. Unknown or empty
// names get JSON, which every client speaks.
func GetCodec(name string) Codec {
	if name == CodecNameMsgpack {
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}

// JSONCodec carries frames as JSON text messages.
type JSONCodec struct{}

func (*JSONCodec) Encode(frame *Frame) ([]byte, error) { return json.Marshal(frame) }

func (*JSONCodec) Decode(data []byte) (*Frame, error) {
	f := new(Frame)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (*JSONCodec) Name() string { return CodecNameJSON }
func (*JSONCodec) Binary() bool { return false }

// MsgpackCodec carries frames as MessagePack binary messages. Payloads in
// Data stay JSON encoded inside the envelope, so handlers are codec
// agnostic.
type MsgpackCodec struct{}

func (*MsgpackCodec) Encode(frame *Frame) ([]byte, error) { return msgpack.Marshal(frame) }

func (*MsgpackCodec) Decode(data []byte) (*Frame, error) {
	f := new(Frame)
	if err := msgpack.Unmarshal(data, f); err != nil {
		return nil, err
	}
	// msgpack decodes times into the local zone.
	f.Timestamp = f.Timestamp.UTC()
	return f, nil
}

func (*MsgpackCodec) Name() string { return CodecNameMsgpack }
func (*MsgpackCodec) Binary() bool { return true }
