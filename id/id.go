// Package id defines the identifiers of jobs, cutlists, materials, recut
// entries and change events.
//
// IDs are TypeIDs ("mat_01h2xcejqtf2nbrexx3vqjhp41"): a prefix naming the
// entity kind followed by a UUIDv7 suffix, so they sort by creation time
// and a material ID can never be mistaken for a recut ID on the wire.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.jetify.com/typeid/v2"
)

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("id: invalid")

// Prefix names the entity kind of an ID.
type Prefix string

const (
	PrefixJob        Prefix = "job"
	PrefixCutlist    Prefix = "cut"
	PrefixMaterial   Prefix = "mat"
	PrefixRecut      Prefix = "recut"
	PrefixEvent      Prefix = "evt"
	PrefixSubscriber Prefix = "sub"
	PrefixNode       Prefix = "node"
)

// ID identifies one entity. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText, Scan and DecodeMsgpack need pointer receivers.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the zero ID. It encodes as "" in JSON and msgpack and as NULL in
// SQL.
var Nil ID

// Kind-specific names; they are the same type and exist for readability.
type (
	JobID      = ID
	CutlistID  = ID
	MaterialID = ID
	RecutID    = ID
	EventID    = ID
)

// New generates an ID with the given prefix. It panics on a prefix TypeID
// rejects, which only a programming error can produce.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate with prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, valid: true}
}

func NewJobID() ID        { return New(PrefixJob) }
func NewCutlistID() ID    { return New(PrefixCutlist) }
func NewMaterialID() ID   { return New(PrefixMaterial) }
func NewRecutID() ID      { return New(PrefixRecut) }
func NewEventID() ID      { return New(PrefixEvent) }
func NewSubscriberID() ID { return New(PrefixSubscriber) }
func NewNodeID() ID       { return New(PrefixNode) }

// Parse parses any TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it names the expected kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != expected {
		return Nil, fmt.Errorf("%w: %q is a %s id, want %s", ErrInvalid, s, got, expected)
	}
	return parsed, nil
}

func ParseJobID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixJob) }
func ParseCutlistID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixCutlist) }
func ParseMaterialID(s string) (ID, error) { return ParseWithPrefix(s, PrefixMaterial) }
func ParseRecutID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixRecut) }

// String returns the "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

// EncodeMsgpack implements msgpack.CustomEncoder. IDs travel as strings so
// msgpack and JSON peers see the same value.
func (i ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(i.String())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (i *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("id: decode msgpack: %w", err)
	}
	return i.UnmarshalText([]byte(s))
}
