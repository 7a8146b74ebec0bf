// Package events models the notifications a wave server sends to a robot.
// Events are parsed from the inbound envelope, validated against the fields
// their kind requires, and never modified afterwards.
package events

import (
	"fmt"
	"sort"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
)

// Identity is a participant address such as "someguy@test.com".
type Identity string

// Event is one decoded notification. It lives for a single process call.
type Event struct {
	// Index is the position of the event in the inbound batch.
	Index int
	Kind  Kind

	// DocumentID is the wave id of the wavelet the batch refers to.
	DocumentID string
	WaveletID  string
	// Revision is the wavelet version the server reported with the batch.
	Revision int64

	// Actor is the participant that caused the event (modifiedBy).
	Actor       Identity
	Timestamp   int64
	BlipID      string
	ProxyingFor string

	// Payload holds the event properties as decoded from the wire.
	Payload map[string]any
}

// Document identifies the wavelet that a batch of events belongs to.
type Document struct {
	WaveID    string
	WaveletID string
	Version   int64
}

// Parse converts one raw event object into an Event. Unknown kinds yield an
// error matching errspkg.ErrUnknownEventKind; structural problems yield a
// *errspkg.MalformedEventError.
func Parse(index int, raw map[string]any, doc Document) (*Event, error) {
	if raw == nil {
		return nil, malformed(index, "", "", "event must be a JSON object")
	}

	rawType, present := raw["type"]
	typeName, isString := rawType.(string)
	if !present || !isString || typeName == "" {
		return nil, malformed(index, "", "type", "is required")
	}

	kind := Kind(typeName)
	if !kind.Known() {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownEventKind, typeName)
	}

	evt := &Event{
		Index:      index,
		Kind:       kind,
		DocumentID: doc.WaveID,
		WaveletID:  doc.WaveletID,
		Revision:   doc.Version,
		Payload:    map[string]any{},
	}

	if v, ok := raw["modifiedBy"]; ok && v != nil {
		actor, ok := v.(string)
		if !ok {
			return nil, malformed(index, typeName, "modifiedBy", "must be a string")
		}
		evt.Actor = Identity(actor)
	}
	if v, ok := raw["timestamp"]; ok && v != nil {
		ts, ok := asInt64(v)
		if !ok {
			return nil, malformed(index, typeName, "timestamp", "must be a number")
		}
		evt.Timestamp = ts
	}
	if v, ok := raw["proxyingFor"]; ok && v != nil {
		proxy, ok := v.(string)
		if !ok {
			return nil, malformed(index, typeName, "proxyingFor", "must be a string")
		}
		evt.ProxyingFor = proxy
	}
	if v, ok := raw["properties"]; ok && v != nil {
		props, ok := v.(map[string]any)
		if !ok {
			return nil, malformed(index, typeName, "properties", "must be an object")
		}
		evt.Payload = props
	}

	for _, key := range kind.RequiredProperties() {
		if _, ok := evt.Payload[key]; !ok {
			return nil, malformed(index, typeName, key, "is required")
		}
	}

	if v, ok := evt.Payload["blipId"]; ok && v != nil {
		blipID, ok := v.(string)
		if !ok {
			return nil, malformed(index, typeName, "blipId", "must be a string")
		}
		evt.BlipID = blipID
	}

	return evt, nil
}

func malformed(index int, typeName, field, reason string) error {
	return &errspkg.MalformedEventError{EventIndex: index, Type: typeName, Field: field, Reason: reason}
}

// Property returns a payload value or nil.
func (e *Event) Property(key string) any {
	if e == nil || e.Payload == nil {
		return nil
	}
	return e.Payload[key]
}

// PropertyString returns a payload value rendered as a string. Missing values
// render as the empty string.
func (e *Event) PropertyString(key string) string {
	v := e.Property(key)
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

// PropertyStrings returns a list-valued payload entry. Non-string members are
// skipped.
func (e *Event) PropertyStrings(key string) []string {
	list, ok := e.Property(key).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PropertyInt returns a numeric payload entry, 0 if missing or not numeric.
func (e *Event) PropertyInt(key string) int64 {
	n, _ := asInt64(e.Property(key))
	return n
}

// PropertyKeys returns the payload keys in sorted order.
func (e *Event) PropertyKeys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Payload))
	for key := range e.Payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Field resolves the names exposed to handler rules: modifiedBy, type,
// timestamp, blipId, proxyingFor, waveId, waveletId and version.
func (e *Event) Field(name string) (any, bool) {
	switch name {
	case "modifiedBy", "actor":
		return string(e.Actor), true
	case "type", "kind":
		return string(e.Kind), true
	case "timestamp":
		return e.Timestamp, true
	case "blipId":
		return e.BlipID, true
	case "proxyingFor":
		return e.ProxyingFor, true
	case "waveId", "documentId":
		return e.DocumentID, true
	case "waveletId":
		return e.WaveletID, true
	case "version", "revision":
		return e.Revision, true
	}
	return nil, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
