package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/ops"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

func newDoc(t *testing.T) (*wavelet.Context, *ops.Recorder) {
	t.Helper()
	snap, err := wavelet.NewSnapshot(
		map[string]any{
			"waveId":     "example.com!w+1",
			"waveletId":  "example.com!conv+root",
			"title":      "Old",
			"rootBlipId": "b+root",
			"tags":       []any{"draft"},
		},
		map[string]any{
			"b+root": map[string]any{"blipId": "b+root", "content": "\nOld\nbody"},
			"b+2":    map[string]any{"blipId": "b+2", "content": "hello", "creator": "bob@example.com"},
		},
		nil,
	)
	require.NoError(t, err)
	rec := ops.NewRecorder(snap)
	return wavelet.NewContext(snap, rec.Open()), rec
}

func submittedEvent() *events.Event {
	return &events.Event{
		Kind:       events.BlipSubmitted,
		DocumentID: "example.com!w+1",
		Actor:      "alice@example.com",
		BlipID:     "b+2",
		Timestamp:  42,
		Payload:    map[string]any{"label": "urgent", "position": int64(3)},
	}
}

func run(t *testing.T, source string) ([]ops.Operation, error) {
	t.Helper()
	program, err := Compile("test", source)
	require.NoError(t, err)
	doc, rec := newDoc(t)
	err = program.Invoke(context.Background(), submittedEvent(), doc)
	return rec.Operations(), err
}

func TestCompileEmptySource(t *testing.T) {
	program, err := Compile("noop", "  \n ; // nothing\n")
	require.NoError(t, err)
	assert.Equal(t, 0, program.Len())
	assert.Equal(t, "noop", program.Name())
}

func TestSetTitleFromEvent(t *testing.T) {
	got, err := run(t, `w.title = "Seen by " + e.modifiedBy`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ops.WaveletSetTitle, got[0].Method)
	assert.Equal(t, "Seen by alice@example.com", got[0].ParamString("waveletTitle"))
}

func TestStatementsRunInOrder(t *testing.T) {
	source := `
		wavelet.participants.add(e.modifiedBy) // greet
		w.participants.setRole("bob@example.com", "READ_ONLY")
		w.tags.append(e.properties.label); w.tags.remove("draft")
		w.dataDocuments.set("seen", e.timestamp)
		w.dataDocuments.delete("absent")
		w.reply("thanks")
		blip.append(" - ack")
		blip.appendMarkup("<b>done</b>")
		root.reply()
		blip.continueThread()
		blip.insertInlineBlip(e.properties.position)
		w.delete("b+2")
	`
	got, err := run(t, source)
	require.NoError(t, err)

	methods := make([]string, len(got))
	for i, op := range got {
		methods[i] = op.Method
		assert.Equal(t, "op"+itoa(i+1), op.ID)
	}
	assert.Equal(t, []string{
		ops.WaveletAddParticipant,
		ops.WaveletModifyParticipantRole,
		ops.WaveletModifyTag,
		ops.WaveletModifyTag,
		ops.WaveletDatadocSet,
		ops.WaveletAppendBlip,
		ops.DocumentModify,
		ops.DocumentAppendMarkup,
		ops.BlipCreateChild,
		ops.BlipContinueThread,
		ops.DocumentInlineBlipInsert,
		ops.BlipDelete,
	}, methods)
	assert.Equal(t, "42", got[4].ParamString("datadocValue"))
	assert.Equal(t, 3, got[10].Param("index"))
}

func itoa(n int) string { return toString(int64(n)) }

func TestBlipReferences(t *testing.T) {
	got, err := run(t, `w.reply(blip.creator + ": " + blip.text + " / " + root.id + " / " + w.domain)`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	data := got[0].Param("blipData").(map[string]any)
	assert.Equal(t, "bob@example.com: hello / b+root / example.com", data["content"])
}

func TestLaterStatementsSeeEarlierEffects(t *testing.T) {
	got, err := run(t, `w.title = "New"; w.reply(w.title + "|" + root.text)`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	data := got[1].Param("blipData").(map[string]any)
	assert.Equal(t, "New|\nNew\nbody", data["content"])
}

func TestFailStopsProgram(t *testing.T) {
	got, err := run(t, `w.tags.append("a"); fail("nope " + e.type); w.tags.append("b")`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuleFailed))
	assert.Contains(t, err.Error(), "nope BLIP_SUBMITTED")
	assert.Contains(t, err.Error(), `rule "test" line 1`)
	assert.Len(t, got, 1)
}

func TestProxyForAppliesToLaterStatements(t *testing.T) {
	got, err := run(t, `w.tags.append("a"); w.proxyFor("bob"); w.tags.append("b")`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Param("proxyingFor"))
	assert.Equal(t, "bob", got[1].ParamString("proxyingFor"))
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		source string
		target error
	}{
		{`w.title = "a\nb"`, wavelet.ErrInvalidTitle},
		{`w.participants.setRole("x", "OWNER")`, wavelet.ErrInvalidRole},
		{`blip.insertInlineBlip(0)`, wavelet.ErrInvalidPosition},
		{`w.delete("missing")`, wavelet.ErrBlipNotFound},
		{`w.proxyFor("a b")`, wavelet.ErrInvalidProxyFor},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := run(t, tt.source)
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, got)
		})
	}

	_, err := run(t, `blip.insertInlineBlip("x")`)
	assert.Error(t, err)
}

func TestBlipTargetRequiresEventBlip(t *testing.T) {
	program := MustCompile("t", `blip.append("x")`)
	doc, rec := newDoc(t)

	err := program.Invoke(context.Background(), &events.Event{Kind: events.WaveletSelfAdded}, doc)
	assert.ErrorIs(t, err, ErrNoBlip)
	assert.Equal(t, 0, rec.Len())
}

func TestInvokeHonoursCancellation(t *testing.T) {
	program := MustCompile("t", `w.tags.append("a")`)
	doc, rec := newDoc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := program.Invoke(ctx, submittedEvent(), doc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rec.Len())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		source string
		msg    string
	}{
		{`w.title`, "expected '(' or '='"},
		{`w.title("x")`, "unknown command w.title"},
		{`w.reply = "x"`, "cannot assign to w.reply"},
		{`e.modifiedBy = "x"`, "event is read only"},
		{`x.y("z")`, `unknown target "x"`},
		{`w.reply("a", "b")`, "w.reply takes 0 to 1 arguments, got 2"},
		{`w.participants.setRole("a")`, "takes 2 arguments"},
		{`root.reply("x")`, "takes 0 arguments"},
		{`w.reply(e.nope)`, `unknown reference "e.nope"`},
		{`w.reply(w.title.x)`, `unknown reference "w.title.x"`},
		{`w.reply("unterminated)`, "literal"},
		{`w.reply("a" "b")`, "expected ',' or ')'"},
		{`w.reply("a") w.reply("b")`, "expected ';' or newline"},
		{`w.reply(-x)`, "number after '-'"},
		{`fail(`, "expected string, number or reference"},
		{`w.`, "identifier after '.'"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			_, err := Compile("bad", tt.source)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := Compile("pos", "w.reply(\"ok\")\n  w.bogus()")
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 2, syntaxErr.Line)
	assert.Equal(t, 3, syntaxErr.Column)
	assert.Equal(t, "pos", syntaxErr.Rule)
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("bad", "w.title") })
}
