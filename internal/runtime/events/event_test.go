package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
)

var testDoc = Document{WaveID: "test.com!wdykLROk*11", WaveletID: "test.com!conv+root", Version: 5}

func TestParseParticipantsChanged(t *testing.T) {
	raw := map[string]any{
		"timestamp":  int64(1242079611003),
		"modifiedBy": "someguy@test.com",
		"type":       "WAVELET_PARTICIPANTS_CHANGED",
		"properties": map[string]any{
			"participantsRemoved": []any{},
			"participantsAdded":   []any{"monty@appspot.com"},
		},
	}

	evt, err := Parse(0, raw, testDoc)
	require.NoError(t, err)
	assert.Equal(t, WaveletParticipantsChanged, evt.Kind)
	assert.Equal(t, Identity("someguy@test.com"), evt.Actor)
	assert.Equal(t, int64(1242079611003), evt.Timestamp)
	assert.Equal(t, "test.com!wdykLROk*11", evt.DocumentID)
	assert.Equal(t, int64(5), evt.Revision)
	assert.Equal(t, []string{"monty@appspot.com"}, evt.PropertyStrings("participantsAdded"))
	assert.Empty(t, evt.PropertyStrings("participantsRemoved"))
	assert.Equal(t, []string{"participantsAdded", "participantsRemoved"}, evt.PropertyKeys())
}

func TestParseBlipSubmittedCarriesBlipID(t *testing.T) {
	evt, err := Parse(2, map[string]any{
		"type":       "BLIP_SUBMITTED",
		"properties": map[string]any{"blipId": "b+1"},
	}, testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, evt.Index)
	assert.Equal(t, "b+1", evt.BlipID)
}

func TestParseRejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{name: "nil event", raw: nil},
		{name: "missing type", raw: map[string]any{"properties": map[string]any{}}, field: "type"},
		{name: "non string type", raw: map[string]any{"type": int64(4)}, field: "type"},
		{name: "missing title", raw: map[string]any{"type": "WAVELET_TITLE_CHANGED", "properties": map[string]any{}}, field: "title"},
		{name: "missing removed participants", raw: map[string]any{
			"type":       "WAVELET_PARTICIPANTS_CHANGED",
			"properties": map[string]any{"participantsAdded": []any{}},
		}, field: "participantsRemoved"},
		{name: "bad properties", raw: map[string]any{"type": "BLIP_SUBMITTED", "properties": "nope"}, field: "properties"},
		{name: "bad actor", raw: map[string]any{"type": "BLIP_SUBMITTED", "modifiedBy": int64(1)}, field: "modifiedBy"},
		{name: "bad timestamp", raw: map[string]any{"type": "BLIP_SUBMITTED", "timestamp": "yesterday"}, field: "timestamp"},
		{name: "bad blip id", raw: map[string]any{"type": "BLIP_SUBMITTED", "properties": map[string]any{"blipId": int64(3)}}, field: "blipId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(1, tt.raw, testDoc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errspkg.ErrMalformedEvent))

			var malformedErr *errspkg.MalformedEventError
			require.ErrorAs(t, err, &malformedErr)
			assert.Equal(t, 1, malformedErr.EventIndex)
			assert.Equal(t, tt.field, malformedErr.Field)
		})
	}
}

func TestParseUnknownKind(t *testing.T) {
	_, err := Parse(0, map[string]any{"type": "WAVELET_EXPLODED"}, testDoc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errspkg.ErrUnknownEventKind))
	assert.False(t, errors.Is(err, errspkg.ErrMalformedEvent))
}

func TestParseAllowsNullRequiredValue(t *testing.T) {
	evt, err := Parse(0, map[string]any{
		"type":       "ANNOTATED_TEXT_CHANGED",
		"properties": map[string]any{"name": "style/color", "value": nil},
	}, testDoc)
	require.NoError(t, err)
	assert.Equal(t, "style/color", evt.PropertyString("name"))
	assert.Equal(t, "", evt.PropertyString("value"))
}

func TestKindKeysAreCanonical(t *testing.T) {
	seen := make(map[string]Kind)
	for _, kind := range AllKinds() {
		key := kind.Key()
		if other, dup := seen[key]; dup {
			t.Fatalf("kinds %s and %s share key %s", kind, other, key)
		}
		seen[key] = kind

		parsed, ok := ParseKind(key)
		require.True(t, ok, "key %s should parse", key)
		assert.Equal(t, kind, parsed)

		parsed, ok = ParseKind(string(kind))
		require.True(t, ok)
		assert.Equal(t, kind, parsed)
	}
	assert.Len(t, seen, 16)
	assert.Equal(t, "blip_submitted", BlipSubmitted.Key())

	_, ok := ParseKind("not_a_kind")
	assert.False(t, ok)
}

func TestAllKindsReturnsCopy(t *testing.T) {
	kinds := AllKinds()
	kinds[0] = "MUTATED"
	assert.Equal(t, WaveletBlipCreated, AllKinds()[0])
}

func TestEventFieldAndPropertyAccessors(t *testing.T) {
	evt := &Event{
		Kind:       GadgetStateChanged,
		Actor:      "a@b.com",
		DocumentID: "w1",
		WaveletID:  "wl1",
		Revision:   9,
		Payload:    map[string]any{"index": int64(3), "oldState": map[string]any{}, "ratio": 2.0},
	}

	v, ok := evt.Field("modifiedBy")
	require.True(t, ok)
	assert.Equal(t, "a@b.com", v)

	v, ok = evt.Field("version")
	require.True(t, ok)
	assert.Equal(t, int64(9), v)

	_, ok = evt.Field("nope")
	assert.False(t, ok)

	assert.Equal(t, int64(3), evt.PropertyInt("index"))
	assert.Equal(t, int64(2), evt.PropertyInt("ratio"))
	assert.Equal(t, int64(0), evt.PropertyInt("missing"))
	assert.Equal(t, "3", evt.PropertyString("index"))

	var nilEvent *Event
	assert.Nil(t, nilEvent.Property("x"))
}
