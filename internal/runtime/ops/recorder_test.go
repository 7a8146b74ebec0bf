package ops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
)

type recordingApplier struct {
	applied []string
	reject  string
}

func (a *recordingApplier) Apply(op Operation) error {
	if op.Method == a.reject {
		return errors.New("rejected")
	}
	a.applied = append(a.applied, op.Method)
	return nil
}

func TestRecorderAssignsSequentialIDs(t *testing.T) {
	applier := &recordingApplier{}
	rec := NewRecorder(applier)

	require.NoError(t, rec.Submit(NewSetTitle("w", "wl", "one")))
	require.NoError(t, rec.Submit(NewAddParticipant("w", "wl", "bob@example.com")))
	require.NoError(t, rec.Submit(NewDeleteBlip("w", "wl", "b+1")))

	got := rec.Operations()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"op1", "op2", "op3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, []string{WaveletSetTitle, WaveletAddParticipant, BlipDelete}, applier.applied)
}

func TestRecorderRejectedOperationIsNotRecorded(t *testing.T) {
	rec := NewRecorder(&recordingApplier{reject: BlipDelete})

	require.Error(t, rec.Submit(NewDeleteBlip("w", "wl", "missing")))
	require.NoError(t, rec.Submit(NewSetTitle("w", "wl", "t")))

	got := rec.Operations()
	require.Len(t, got, 1)
	assert.Equal(t, "op1", got[0].ID)
}

func TestRecorderTemporaryBlipIDsDoNotConsumeOperationIDs(t *testing.T) {
	rec := NewRecorder(nil)

	first := rec.TemporaryBlipID("conv+root")
	require.NoError(t, rec.Submit(NewAppendBlip("w", "conv+root", BlipData("w", "conv+root", first, "", ""))))

	assert.Equal(t, "TBD_conv+root_0x1", first)
	assert.Equal(t, "op1", rec.Operations()[0].ID)
	assert.Equal(t, "TBD_conv+root_0x2", rec.TemporaryBlipID("conv+root"))
}

func TestRecorderSealRejectsSubmissions(t *testing.T) {
	rec := NewRecorder(nil)
	rec.Seal()

	err := rec.Submit(NewSetTitle("w", "wl", "late"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errspkg.ErrSinkClosed))
	assert.True(t, rec.Sealed())
	assert.Equal(t, 0, rec.Len())
	assert.NoError(t, rec.Violation())
}

func TestRecorderCopiesParams(t *testing.T) {
	rec := NewRecorder(nil)
	op := NewSetTitle("w", "wl", "original")
	require.NoError(t, rec.Submit(op))

	op.Params["waveletTitle"] = "mutated"
	assert.Equal(t, "original", rec.Operations()[0].ParamString("waveletTitle"))
}

func TestScopeClosedSubmissionIsAViolation(t *testing.T) {
	rec := NewRecorder(nil)
	scope := rec.Open()
	require.NoError(t, scope.Submit(NewSetTitle("w", "wl", "in time")))
	scope.Close()
	scope.Close()

	err := scope.Submit(NewSetTitle("w", "wl", "too late"))
	var closed *errspkg.SinkClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, WaveletSetTitle, closed.Method)
	assert.Equal(t, 1, scope.Submitted())
	assert.Equal(t, 1, rec.Len())

	violation := rec.Violation()
	require.Error(t, violation)
	assert.True(t, errors.Is(violation, errspkg.ErrSinkClosed))
}

func TestScopeViolationAfterSealIsNotRecorded(t *testing.T) {
	rec := NewRecorder(nil)
	scope := rec.Open()
	scope.Close()
	rec.Seal()

	require.Error(t, scope.Submit(NewSetTitle("w", "wl", "x")))
	assert.NoError(t, rec.Violation())
}

func TestOperationConstructors(t *testing.T) {
	modify := NewDocumentModify("w", "wl", "b1", ModifyInsertAfter, []string{"hello"})
	assert.Equal(t, DocumentModify, modify.Method)
	assert.Equal(t, map[string]any{"modifyHow": ModifyInsertAfter, "values": []any{"hello"}}, modify.Param("modifyAction"))
	assert.Equal(t, "w", modify.ParamString("waveId"))
	assert.Equal(t, "wl", modify.ParamString("waveletId"))

	tag := NewModifyTag("w", "wl", "urgent", "remove")
	assert.Equal(t, "remove", tag.ParamString("modify_how"))
	_, has := NewModifyTag("w", "wl", "urgent", "").Params["modify_how"]
	assert.False(t, has)

	data := BlipData("w", "wl", "TBD_wl_0x1", "hi", "")
	assert.Nil(t, data["parentBlipId"])

	notify := NewNotify("0xabc")
	assert.Equal(t, NotifyOperationID, notify.ID)
	assert.Equal(t, ProtocolVersion, notify.ParamString("protocolVersion"))

	bare := New(RobotFetchWave, "", "", nil)
	assert.Empty(t, bare.Params)
	assert.Nil(t, Operation{}.Param("x"))
}

func TestWithMethodPrefix(t *testing.T) {
	op := NewSetTitle("w", "wl", "t")
	assert.Equal(t, "wave.wavelet.setTitle", op.WithMethodPrefix("wave").Method)
	assert.Equal(t, "wave.wavelet.setTitle", op.WithMethodPrefix("wave.").Method)
	assert.Equal(t, WaveletSetTitle, op.WithMethodPrefix("").Method)
	assert.Equal(t, WaveletSetTitle, op.Method)
}
