// Package ops holds the mutation intents a robot sends back to the wave
// server and the recorder that keeps them in submission order.
package ops

import "strings"

// ProtocolVersion is the robot protocol version announced in responses.
const ProtocolVersion = "0.22"

// NotifyOperationID is reserved for the robot.notify operation.
const NotifyOperationID = "0"

// Operation methods understood by the wave server.
const (
	WaveletAppendBlip            = "wavelet.appendBlip"
	WaveletSetTitle              = "wavelet.setTitle"
	WaveletAddParticipant        = "wavelet.participant.add"
	WaveletDatadocSet            = "wavelet.datadoc.set"
	WaveletModifyTag             = "wavelet.modifyTag"
	WaveletModifyParticipantRole = "wavelet.modifyParticipantRole"
	BlipContinueThread           = "blip.continueThread"
	BlipCreateChild              = "blip.createChild"
	BlipDelete                   = "blip.delete"
	DocumentAppendMarkup         = "document.appendMarkup"
	DocumentInlineBlipInsert     = "document.inlineBlip.insert"
	DocumentModify               = "document.modify"
	RobotCreateWavelet           = "robot.createWavelet"
	RobotFetchWave               = "robot.fetchWave"
	RobotNotify                  = "robot.notify"
	RobotSearch                  = "robot.search"
)

// Document modify actions.
const (
	ModifyInsert          = "INSERT"
	ModifyInsertAfter     = "INSERT_AFTER"
	ModifyReplace         = "REPLACE"
	ModifyDelete          = "DELETE"
	ModifyAnnotate        = "ANNOTATE"
	ModifyClearAnnotation = "CLEAR_ANNOTATION"
)

// Participant roles.
const (
	RoleFull     = "FULL"
	RoleReadOnly = "READ_ONLY"
)

// Operation is a single mutation intent. ID is assigned by the Recorder.
type Operation struct {
	Method string         `json:"method"`
	ID     string         `json:"id"`
	Params map[string]any `json:"params"`
}

// New builds an operation addressed to a wavelet. Empty ids are omitted.
func New(method, waveID, waveletID string, params map[string]any) Operation {
	if params == nil {
		params = map[string]any{}
	}
	if waveID != "" {
		params["waveId"] = waveID
	}
	if waveletID != "" {
		params["waveletId"] = waveletID
	}
	return Operation{Method: method, Params: params}
}

// Param returns a parameter value or nil.
func (o Operation) Param(key string) any {
	if o.Params == nil {
		return nil
	}
	return o.Params[key]
}

// ParamString returns a string parameter or "".
func (o Operation) ParamString(key string) string {
	s, _ := o.Param(key).(string)
	return s
}

// WithMethodPrefix namespaces the method, adding the separating dot if needed.
func (o Operation) WithMethodPrefix(prefix string) Operation {
	if prefix == "" {
		return o
	}
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	o.Method = prefix + o.Method
	return o
}

// BlipData describes a blip created by an operation.
func BlipData(waveID, waveletID, blipID, content, parentBlipID string) map[string]any {
	data := map[string]any{
		"waveId":       waveID,
		"waveletId":    waveletID,
		"blipId":       blipID,
		"content":      content,
		"parentBlipId": nil,
	}
	if parentBlipID != "" {
		data["parentBlipId"] = parentBlipID
	}
	return data
}

func NewAppendBlip(waveID, waveletID string, blipData map[string]any) Operation {
	return New(WaveletAppendBlip, waveID, waveletID, map[string]any{"blipData": blipData})
}

func NewSetTitle(waveID, waveletID, title string) Operation {
	return New(WaveletSetTitle, waveID, waveletID, map[string]any{"waveletTitle": title})
}

func NewAddParticipant(waveID, waveletID, participantID string) Operation {
	return New(WaveletAddParticipant, waveID, waveletID, map[string]any{"participantId": participantID})
}

func NewModifyParticipantRole(waveID, waveletID, participantID, role string) Operation {
	return New(WaveletModifyParticipantRole, waveID, waveletID, map[string]any{
		"participantId":   participantID,
		"participantRole": role,
	})
}

// NewDatadocSet sets a data document; a nil value deletes it.
func NewDatadocSet(waveID, waveletID, name string, value any) Operation {
	return New(WaveletDatadocSet, waveID, waveletID, map[string]any{
		"datadocName":  name,
		"datadocValue": value,
	})
}

// NewModifyTag adds a tag, or removes it when modifyHow is "remove".
func NewModifyTag(waveID, waveletID, tag, modifyHow string) Operation {
	op := New(WaveletModifyTag, waveID, waveletID, map[string]any{"name": tag})
	if modifyHow != "" {
		op.Params["modify_how"] = modifyHow
	}
	return op
}

func NewCreateChild(waveID, waveletID, blipID string, blipData map[string]any) Operation {
	return New(BlipCreateChild, waveID, waveletID, map[string]any{"blipId": blipID, "blipData": blipData})
}

func NewContinueThread(waveID, waveletID, blipID string, blipData map[string]any) Operation {
	return New(BlipContinueThread, waveID, waveletID, map[string]any{"blipId": blipID, "blipData": blipData})
}

func NewDeleteBlip(waveID, waveletID, blipID string) Operation {
	return New(BlipDelete, waveID, waveletID, map[string]any{"blipId": blipID})
}

func NewAppendMarkup(waveID, waveletID, blipID, content string) Operation {
	return New(DocumentAppendMarkup, waveID, waveletID, map[string]any{"blipId": blipID, "content": content})
}

// NewDocumentModify inserts, replaces or appends text values in a blip.
func NewDocumentModify(waveID, waveletID, blipID, modifyHow string, values []string) Operation {
	action := map[string]any{"modifyHow": modifyHow}
	if len(values) > 0 {
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		action["values"] = list
	}
	return New(DocumentModify, waveID, waveletID, map[string]any{"blipId": blipID, "modifyAction": action})
}

func NewInlineBlipInsert(waveID, waveletID, blipID string, position int, blipData map[string]any) Operation {
	return New(DocumentInlineBlipInsert, waveID, waveletID, map[string]any{
		"blipId":   blipID,
		"index":    position,
		"blipData": blipData,
	})
}

// NewNotify is the leading operation of a JSON-RPC style response.
func NewNotify(capabilitiesHash string) Operation {
	return Operation{
		Method: RobotNotify,
		ID:     NotifyOperationID,
		Params: map[string]any{
			"capabilitiesHash": capabilitiesHash,
			"protocolVersion":  ProtocolVersion,
		},
	}
}
