package dwp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCodecs(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	frames := []*Frame{
		{
			ID:        "req-1",
			Type:      FrameRequest,
			Method:    MethodRecutSheetSet,
			Data:      json.RawMessage(`{"recut_id":"recut_01","index":0,"status":"skip"}`),
			Credits:   10,
			Timestamp: ts,
		},
		{
			ID:        "evt-1",
			Type:      FrameEvent,
			Channel:   "job:job_01",
			Data:      json.RawMessage(`{"type":"resync"}`),
			Timestamp: ts,
		},
		{
			ID:        "err-1",
			Type:      FrameErr,
			CorrelID:  "req-1",
			Error:     &ErrorDetail{Code: ErrCodeNotFound, Message: "cuttrack: recut not found", Details: "recut_01"},
			Timestamp: ts,
		},
	}

	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, in := range frames {
				data, err := codec.Encode(in)
				if err != nil {
					t.Fatalf("Encode %s: %v", in.ID, err)
				}
				out, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode %s: %v", in.ID, err)
				}
				if out.ID != in.ID || out.Type != in.Type || out.Method != in.Method ||
					out.CorrelID != in.CorrelID || out.Channel != in.Channel || out.Credits != in.Credits {
					t.Errorf("%s: envelope = %+v, want %+v", in.ID, out, in)
				}
				if string(out.Data) != string(in.Data) {
					t.Errorf("%s: data = %s, want %s", in.ID, out.Data, in.Data)
				}
				if !out.Timestamp.Equal(ts) || out.Timestamp.Location() != time.UTC {
					t.Errorf("%s: timestamp = %v", in.ID, out.Timestamp)
				}
				if (in.Error == nil) != (out.Error == nil) || (in.Error != nil && *in.Error != *out.Error) {
					t.Errorf("%s: error = %+v, want %+v", in.ID, out.Error, in.Error)
				}
			}
		})
	}
}

func TestCodecNegotiation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		name   string
		binary bool
	}{
		{CodecNameJSON, CodecNameJSON, false},
		{CodecNameMsgpack, CodecNameMsgpack, true},
		{"", CodecNameJSON, false},
		{"protobuf", CodecNameJSON, false},
	}
	for _, tt := range tests {
		c := GetCodec(tt.format)
		if c.Name() != tt.name || c.Binary() != tt.binary {
			t.Errorf("GetCodec(%q) = %s binary=%v, want %s binary=%v", tt.format, c.Name(), c.Binary(), tt.name, tt.binary)
		}
	}
}
