package events

import "strings"

// Kind is the wire type of a robot event, for example BLIP_SUBMITTED.
type Kind string

const (
	WaveletBlipCreated         Kind = "WAVELET_BLIP_CREATED"
	WaveletBlipRemoved         Kind = "WAVELET_BLIP_REMOVED"
	WaveletParticipantsChanged Kind = "WAVELET_PARTICIPANTS_CHANGED"
	WaveletSelfAdded           Kind = "WAVELET_SELF_ADDED"
	WaveletSelfRemoved         Kind = "WAVELET_SELF_REMOVED"
	WaveletTitleChanged        Kind = "WAVELET_TITLE_CHANGED"
	BlipContributorsChanged    Kind = "BLIP_CONTRIBUTORS_CHANGED"
	BlipSubmitted              Kind = "BLIP_SUBMITTED"
	DocumentChanged            Kind = "DOCUMENT_CHANGED"
	FormButtonClicked          Kind = "FORM_BUTTON_CLICKED"
	GadgetStateChanged         Kind = "GADGET_STATE_CHANGED"
	AnnotatedTextChanged       Kind = "ANNOTATED_TEXT_CHANGED"
	OperationError             Kind = "OPERATION_ERROR"
	WaveletCreated             Kind = "WAVELET_CREATED"
	WaveletFetched             Kind = "WAVELET_FETCHED"
	WaveletTagsChanged         Kind = "WAVELET_TAGS_CHANGED"
)

var allKinds = []Kind{
	WaveletBlipCreated,
	WaveletBlipRemoved,
	WaveletParticipantsChanged,
	WaveletSelfAdded,
	WaveletSelfRemoved,
	WaveletTitleChanged,
	BlipContributorsChanged,
	BlipSubmitted,
	DocumentChanged,
	FormButtonClicked,
	GadgetStateChanged,
	AnnotatedTextChanged,
	OperationError,
	WaveletCreated,
	WaveletFetched,
	WaveletTagsChanged,
}

// requiredProperties lists the property keys each kind must carry.
var requiredProperties = map[Kind][]string{
	WaveletBlipCreated:         {"newBlipId"},
	WaveletBlipRemoved:         {"removedBlipId"},
	WaveletParticipantsChanged: {"participantsAdded", "participantsRemoved"},
	WaveletTitleChanged:        {"title"},
	BlipContributorsChanged:    {"contributorsAdded", "contributorsRemoved"},
	FormButtonClicked:          {"buttonName"},
	GadgetStateChanged:         {"index", "oldState"},
	AnnotatedTextChanged:       {"name"},
	OperationError:             {"operationId", "message"},
	WaveletCreated:             {"message"},
	WaveletFetched:             {"message"},
}

// AllKinds returns every kind known to the protocol in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Key is the canonical configuration key of the kind, e.g. "blip_submitted".
func (k Kind) Key() string {
	return strings.ToLower(string(k))
}

func (k Kind) String() string { return string(k) }

// Known reports whether k belongs to the protocol enumeration.
func (k Kind) Known() bool {
	_, ok := kindIndex[k]
	return ok
}

// RequiredProperties returns the property keys an event of this kind must carry.
func (k Kind) RequiredProperties() []string {
	return requiredProperties[k]
}

var kindIndex = func() map[Kind]int {
	idx := make(map[Kind]int, len(allKinds))
	for i, k := range allKinds {
		idx[k] = i
	}
	return idx
}()

// ParseKind accepts either the wire form or the configuration key.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Known() {
		return "", false
	}
	return k, true
}
