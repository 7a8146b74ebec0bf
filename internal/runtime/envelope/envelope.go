// Package envelope decodes the batch a wave server posts to a robot and
// encodes the robot's reply.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	"github.com/drblury/robotflow/internal/runtime/jsoncodec"
	"github.com/drblury/robotflow/internal/runtime/ops"
)

// Output formats.
const (
	FormatEnvelope = "envelope"
	FormatJSONRPC  = "jsonrpc"
)

// Error entry kinds.
const (
	KindMalformedEvent = "malformed_event"
	KindHandlerFailed  = "handler_failed"
	KindUnknownEvent   = "unknown_event"
)

const snippetRadius = 16

// Inbound is a decoded request batch. Wavelet and Events are required.
type Inbound struct {
	Wavelet      map[string]any `json:"wavelet"`
	Blips        map[string]any `json:"blips,omitempty"`
	Threads      map[string]any `json:"threads,omitempty"`
	Events       []any          `json:"events"`
	ProxyingFor  string         `json:"proxyingFor,omitempty"`
	RobotAddress string         `json:"robotAddress,omitempty"`
}

// Event returns the raw object at index i, or nil when it is not an object.
func (in *Inbound) Event(i int) map[string]any {
	m, _ := in.Events[i].(map[string]any)
	return m
}

// Decode parses a request batch. Every failure is a *errspkg.ProtocolDecodeError.
func Decode(raw []byte) (*Inbound, error) {
	if !jsoncodec.Valid(raw) {
		return nil, syntaxError(raw)
	}
	var top map[string]any
	if err := jsoncodec.Unmarshal(raw, &top); err != nil {
		return nil, &errspkg.ProtocolDecodeError{Offset: -1, Snippet: snippet(raw, 0), Err: fmt.Errorf("envelope must be a JSON object: %w", err)}
	}
	if top == nil {
		return nil, missingField(raw, "wavelet")
	}

	in := &Inbound{}
	wavelet, ok := top["wavelet"].(map[string]any)
	if !ok {
		return nil, missingField(raw, "wavelet")
	}
	in.Wavelet = wavelet
	events, ok := top["events"].([]any)
	if !ok {
		return nil, missingField(raw, "events")
	}
	in.Events = events
	in.Blips, _ = top["blips"].(map[string]any)
	in.Threads, _ = top["threads"].(map[string]any)
	in.ProxyingFor, _ = top["proxyingFor"].(string)
	in.RobotAddress, _ = top["robotAddress"].(string)
	return in, nil
}

func missingField(raw []byte, field string) error {
	return &errspkg.ProtocolDecodeError{
		Offset:  -1,
		Snippet: snippet(raw, 0),
		Err:     fmt.Errorf("%q is required and must be a JSON %s", field, expectedShape(field)),
	}
}

func expectedShape(field string) string {
	if field == "events" {
		return "array"
	}
	return "object"
}

// syntaxError locates the failure with encoding/json, whose SyntaxError
// carries the byte offset.
func syntaxError(raw []byte) error {
	var probe any
	err := json.Unmarshal(raw, &probe)
	if err == nil {
		err = errors.New("invalid JSON")
	}
	offset := int64(-1)
	var se *json.SyntaxError
	if errors.As(err, &se) {
		offset = se.Offset
	} else if len(bytes.TrimSpace(raw)) == 0 {
		offset = 0
	}
	at := 0
	if offset > 0 {
		at = int(offset)
	}
	return &errspkg.ProtocolDecodeError{Offset: offset, Snippet: snippet(raw, at), Err: err}
}

func snippet(raw []byte, at int) string {
	start := max(at-snippetRadius, 0)
	end := min(at+snippetRadius, len(raw))
	if start >= end {
		return ""
	}
	return string(raw[start:end])
}

// ErrorEntry describes one per-event or per-handler failure.
type ErrorEntry struct {
	EventIndex   int    `json:"eventIndex"`
	EventType    string `json:"eventType,omitempty"`
	HandlerIndex *int   `json:"handlerIndex,omitempty"`
	Handler      string `json:"handler,omitempty"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// Response is the reply to one batch.
type Response struct {
	CapabilitiesHash string          `json:"capabilitiesHash"`
	Errors           []ErrorEntry    `json:"errors"`
	Operations       []ops.Operation `json:"operations"`
	ProtocolVersion  string          `json:"protocolVersion"`
}

// Encode renders resp in the requested format. The jsonrpc format is the bare
// operation array led by robot.notify; it has no room for errors.
func Encode(resp Response, format, methodPrefix string) ([]byte, error) {
	operations := make([]ops.Operation, 0, len(resp.Operations))
	for _, op := range resp.Operations {
		operations = append(operations, op.WithMethodPrefix(methodPrefix))
	}
	switch format {
	case "", FormatEnvelope:
		resp.Operations = operations
		if resp.Errors == nil {
			resp.Errors = []ErrorEntry{}
		}
		if resp.ProtocolVersion == "" {
			resp.ProtocolVersion = ops.ProtocolVersion
		}
		return jsoncodec.Marshal(resp)
	case FormatJSONRPC:
		notify := ops.NewNotify(resp.CapabilitiesHash).WithMethodPrefix(methodPrefix)
		return jsoncodec.Marshal(append([]ops.Operation{notify}, operations...))
	default:
		return nil, fmt.Errorf("robotflow: unknown output format %q", format)
	}
}

// DecodeResponse parses either output format back into a Response. Method
// prefixes are kept as written.
func DecodeResponse(raw []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []ops.Operation
		if err := jsoncodec.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("robotflow: cannot decode response: %w", err)
		}
		resp := &Response{Errors: []ErrorEntry{}, Operations: []ops.Operation{}}
		for _, op := range list {
			if op.ID == ops.NotifyOperationID && resp.ProtocolVersion == "" {
				resp.CapabilitiesHash = op.ParamString("capabilitiesHash")
				resp.ProtocolVersion = op.ParamString("protocolVersion")
				continue
			}
			resp.Operations = append(resp.Operations, op)
		}
		return resp, nil
	}
	resp := &Response{}
	if err := jsoncodec.Unmarshal(trimmed, resp); err != nil {
		return nil, fmt.Errorf("robotflow: cannot decode response: %w", err)
	}
	if resp.Operations == nil {
		resp.Operations = []ops.Operation{}
	}
	if resp.Errors == nil {
		resp.Errors = []ErrorEntry{}
	}
	return resp, nil
}
