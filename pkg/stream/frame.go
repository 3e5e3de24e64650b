package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/client"
)

// FrameKind distinguishes payloads from in-band protocol errors.
type FrameKind int

const (
	// FrameData is a payload object.
	FrameData FrameKind = iota + 1
	// FrameError is a protocol-level error or control message sent in-band.
	FrameError
)

// String implements fmt.Stringer.
func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one decoded unit of a stream. Keep-alives are never delivered as
// frames.
type Frame struct {
	Kind FrameKind

	// Raw is the JSON line as received.
	Raw json.RawMessage

	// Errors holds the parsed details of a FrameError.
	Errors []client.ErrorDetail

	// Disconnect is set when the server announced the end of the stream.
	Disconnect bool

	ReceivedAt time.Time
}

// Decode unmarshals the raw payload into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Raw, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Map decodes the payload into a generic object.
func (f Frame) Map() (map[string]any, error) {
	var m map[string]any
	if err := f.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// controlMessage covers the envelope keys used to recognise error frames.
type controlMessage struct {
	Data       json.RawMessage       `json:"data"`
	Errors     []client.ErrorDetail `json:"errors"`
	Disconnect *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"disconnect"`
	Warning *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"warning"`
}

// parseFrame classifies one non-empty line. ok is false for malformed JSON.
func parseFrame(line []byte, now time.Time) (Frame, bool) {
	if !json.Valid(line) {
		return Frame{}, false
	}

	raw := json.RawMessage(bytes.Clone(line))
	frame := Frame{Kind: FrameData, Raw: raw, ReceivedAt: now}

	// Non-objects (arrays, bare ids) are payloads.
	if line[0] != '{' {
		return frame, true
	}

	var msg controlMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// Valid JSON whose envelope keys have unexpected types.
		return frame, true
	}

	switch {
	case msg.Disconnect != nil:
		frame.Kind = FrameError
		frame.Disconnect = true
		frame.Errors = []client.ErrorDetail{{Code: msg.Disconnect.Code, Message: msg.Disconnect.Reason}}
	case msg.Warning != nil:
		frame.Kind = FrameError
		frame.Errors = []client.ErrorDetail{{Type: msg.Warning.Code, Message: msg.Warning.Message}}
	case len(msg.Errors) > 0 && len(msg.Data) == 0:
		frame.Kind = FrameError
		frame.Errors = msg.Errors
	}
	return frame, true
}
