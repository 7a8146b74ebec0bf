// Package wavelet holds the in-memory view of the document a robot was
// invoked on, and the context through which handlers read it and submit
// operations against it.
package wavelet

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/drblury/robotflow/internal/runtime/ops"
)

var (
	ErrWaveletMissing  = errors.New("robotflow: wavelet data is missing")
	ErrBlipNotFound    = errors.New("robotflow: blip not found")
	ErrInvalidTitle    = errors.New("robotflow: wavelet title must not contain a newline")
	ErrInvalidRole     = errors.New("robotflow: invalid participant role")
	ErrInvalidPosition = errors.New("robotflow: inline blip position must be greater than 0")
	ErrInvalidModify   = errors.New("robotflow: unsupported document modification")
	ErrInvalidProxyFor = errors.New("robotflow: invalid proxy-for id")
)

// Thread is an ordered group of blips.
type Thread struct {
	ID       string
	Location int64
	BlipIDs  []string
}

// Annotation is a named value over a content range.
type Annotation struct {
	Name  string
	Value string
	Start int
	End   int
}

type Blip struct {
	ID               string
	WaveID           string
	WaveletID        string
	ParentID         string
	ThreadID         string
	Creator          string
	Content          string
	ChildIDs         []string
	Contributors     []string
	LastModifiedTime int64
	Version          int64
	Annotations      []Annotation
	Elements         map[string]any
}

type Wavelet struct {
	WaveID           string
	WaveletID        string
	Creator          string
	Title            string
	CreationTime     int64
	LastModifiedTime int64
	Version          int64
	Participants     []string
	Roles            map[string]string
	Tags             []string
	DataDocuments    map[string]any
	RootBlipID       string
	RootThread       Thread
}

// Domain returns the part of the wave id before '!', or "".
func (w Wavelet) Domain() string {
	if i := strings.IndexByte(w.WaveID, '!'); i >= 0 {
		return w.WaveID[:i]
	}
	return ""
}

// Role returns the participant's role. Participants without an explicit
// role have full access.
func (w Wavelet) Role(participant string) string {
	if role, ok := w.Roles[participant]; ok {
		return role
	}
	return ops.RoleFull
}

func (w Wavelet) HasParticipant(participant string) bool {
	return slices.Contains(w.Participants, participant)
}

func (w Wavelet) HasTag(tag string) bool {
	return slices.Contains(w.Tags, tag)
}

// Snapshot is the mutable store behind a process call. Only the operation
// recorder changes it, through Apply.
type Snapshot struct {
	wavelet Wavelet
	blips   map[string]*Blip
	threads map[string]*Thread
}

// NewSnapshot builds a snapshot from the decoded envelope sections. Values of
// unexpected types are ignored rather than rejected.
func NewSnapshot(waveletData, blipsData, threadsData map[string]any) (*Snapshot, error) {
	if waveletData == nil {
		return nil, ErrWaveletMissing
	}
	s := &Snapshot{
		wavelet: parseWavelet(waveletData),
		blips:   make(map[string]*Blip, len(blipsData)),
		threads: make(map[string]*Thread, len(threadsData)),
	}
	// Entries are visited in key order. An entry stored under its own id wins
	// over one that merely claims that id.
	selfKeyed := make(map[string]bool, len(blipsData))
	for _, id := range sortedAnyKeys(blipsData) {
		data, ok := blipsData[id].(map[string]any)
		if !ok {
			continue
		}
		b := parseBlip(data)
		if b.ID == "" {
			b.ID = id
		}
		if _, dup := s.blips[b.ID]; dup && (selfKeyed[b.ID] || b.ID != id) {
			continue
		}
		s.blips[b.ID] = b
		selfKeyed[b.ID] = b.ID == id
	}
	clear(selfKeyed)
	for _, id := range sortedAnyKeys(threadsData) {
		data, ok := threadsData[id].(map[string]any)
		if !ok {
			continue
		}
		t := parseThread(data)
		if t.ID == "" {
			t.ID = id
		}
		if _, dup := s.threads[t.ID]; dup && (selfKeyed[t.ID] || t.ID != id) {
			continue
		}
		s.threads[t.ID] = &t
		selfKeyed[t.ID] = t.ID == id
	}
	// A blip listed by several threads belongs to the first in id order.
	threadIDs := make([]string, 0, len(s.threads))
	for id := range s.threads {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)
	for _, threadID := range threadIDs {
		for _, blipID := range s.threads[threadID].BlipIDs {
			if b, ok := s.blips[blipID]; ok && b.ThreadID == "" {
				b.ThreadID = threadID
			}
		}
	}
	for _, blipID := range s.wavelet.RootThread.BlipIDs {
		if b, ok := s.blips[blipID]; ok && b.ThreadID == "" {
			b.ThreadID = s.wavelet.RootThread.ID
		}
	}
	return s, nil
}

func sortedAnyKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Wavelet returns a copy of the wavelet metadata.
func (s *Snapshot) Wavelet() Wavelet {
	w := s.wavelet
	w.Participants = slices.Clone(w.Participants)
	w.Tags = slices.Clone(w.Tags)
	w.Roles = cloneMap(w.Roles)
	w.DataDocuments = cloneMap(w.DataDocuments)
	w.RootThread.BlipIDs = slices.Clone(w.RootThread.BlipIDs)
	return w
}

// Blip returns a copy of the blip with the given id.
func (s *Snapshot) Blip(id string) (Blip, bool) {
	b, ok := s.blips[id]
	if !ok {
		return Blip{}, false
	}
	out := *b
	out.ChildIDs = slices.Clone(b.ChildIDs)
	out.Contributors = slices.Clone(b.Contributors)
	out.Annotations = slices.Clone(b.Annotations)
	out.Elements = cloneMap(b.Elements)
	return out, true
}

// BlipIDs returns the known blip ids in sorted order.
func (s *Snapshot) BlipIDs() []string {
	ids := make([]string, 0, len(s.blips))
	for id := range s.blips {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Thread returns a copy of the thread with the given id, including the root
// thread.
func (s *Snapshot) Thread(id string) (Thread, bool) {
	if id == s.wavelet.RootThread.ID {
		t := s.wavelet.RootThread
		t.BlipIDs = slices.Clone(t.BlipIDs)
		return t, true
	}
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	out := *t
	out.BlipIDs = slices.Clone(t.BlipIDs)
	return out, true
}

// Apply folds op into the snapshot. Methods without a local effect are
// accepted unchanged.
func (s *Snapshot) Apply(op ops.Operation) error {
	switch op.Method {
	case ops.WaveletSetTitle:
		return s.setTitle(op.ParamString("waveletTitle"))
	case ops.WaveletAddParticipant:
		participant := op.ParamString("participantId")
		if !s.wavelet.HasParticipant(participant) {
			s.wavelet.Participants = append(s.wavelet.Participants, participant)
		}
	case ops.WaveletModifyParticipantRole:
		role := op.ParamString("participantRole")
		if role != ops.RoleFull && role != ops.RoleReadOnly {
			return fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
		if s.wavelet.Roles == nil {
			s.wavelet.Roles = map[string]string{}
		}
		s.wavelet.Roles[op.ParamString("participantId")] = role
	case ops.WaveletDatadocSet:
		name := op.ParamString("datadocName")
		value := op.Param("datadocValue")
		if value == nil {
			delete(s.wavelet.DataDocuments, name)
			return nil
		}
		if s.wavelet.DataDocuments == nil {
			s.wavelet.DataDocuments = map[string]any{}
		}
		s.wavelet.DataDocuments[name] = value
	case ops.WaveletModifyTag:
		tag := op.ParamString("name")
		if op.ParamString("modify_how") == "remove" {
			s.wavelet.Tags = slices.DeleteFunc(s.wavelet.Tags, func(t string) bool { return t == tag })
		} else if !s.wavelet.HasTag(tag) {
			s.wavelet.Tags = append(s.wavelet.Tags, tag)
		}
	case ops.WaveletAppendBlip:
		b := s.addBlip(op)
		if root, ok := s.blips[s.wavelet.RootBlipID]; ok {
			root.ChildIDs = append(root.ChildIDs, b.ID)
		}
	case ops.BlipCreateChild:
		parent, err := s.requireBlip(op.ParamString("blipId"))
		if err != nil {
			return err
		}
		b := s.addBlip(op)
		b.ParentID = parent.ID
		parent.ChildIDs = append(parent.ChildIDs, b.ID)
	case ops.BlipContinueThread:
		source, err := s.requireBlip(op.ParamString("blipId"))
		if err != nil {
			return err
		}
		b := s.addBlip(op)
		b.ThreadID = source.ThreadID
		s.appendToThread(source.ThreadID, b.ID)
	case ops.BlipDelete:
		return s.deleteBlip(op.ParamString("blipId"))
	case ops.DocumentAppendMarkup:
		b, err := s.requireBlip(op.ParamString("blipId"))
		if err != nil {
			return err
		}
		b.Content += ParseMarkup(op.ParamString("content"))
	case ops.DocumentModify:
		b, err := s.requireBlip(op.ParamString("blipId"))
		if err != nil {
			return err
		}
		return modifyContent(b, op.Param("modifyAction"))
	case ops.DocumentInlineBlipInsert:
		parent, err := s.requireBlip(op.ParamString("blipId"))
		if err != nil {
			return err
		}
		if position, _ := asInt(op.Param("index")); position <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidPosition, op.Param("index"))
		}
		b := s.addBlip(op)
		b.ParentID = parent.ID
	}
	return nil
}

func (s *Snapshot) setTitle(title string) error {
	if strings.Contains(title, "\n") {
		return fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}
	s.wavelet.Title = title
	root, ok := s.blips[s.wavelet.RootBlipID]
	if !ok {
		return nil
	}
	// The root blip starts with "\n<title>\n"; keep everything after that line.
	rest := "\n"
	if parts := strings.SplitN(root.Content, "\n", 3); len(parts) == 3 {
		rest += parts[2]
	}
	root.Content = "\n" + title + rest
	return nil
}

func (s *Snapshot) addBlip(op ops.Operation) *Blip {
	data, _ := op.Param("blipData").(map[string]any)
	b := parseBlip(data)
	if b.WaveID == "" {
		b.WaveID = s.wavelet.WaveID
	}
	if b.WaveletID == "" {
		b.WaveletID = s.wavelet.WaveletID
	}
	s.blips[b.ID] = b
	return b
}

func (s *Snapshot) requireBlip(id string) (*Blip, error) {
	b, ok := s.blips[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBlipNotFound, id)
	}
	return b, nil
}

func (s *Snapshot) deleteBlip(id string) error {
	b, err := s.requireBlip(id)
	if err != nil {
		return err
	}
	if parent, ok := s.blips[b.ParentID]; ok {
		parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(c string) bool { return c == id })
	}
	delete(s.blips, id)
	return nil
}

func (s *Snapshot) appendToThread(threadID, blipID string) {
	if threadID == "" {
		return
	}
	if threadID == s.wavelet.RootThread.ID {
		s.wavelet.RootThread.BlipIDs = append(s.wavelet.RootThread.BlipIDs, blipID)
		return
	}
	if t, ok := s.threads[threadID]; ok {
		t.BlipIDs = append(t.BlipIDs, blipID)
	}
}

// modifyContent applies a whole-document modify action.
func modifyContent(b *Blip, rawAction any) error {
	action, _ := rawAction.(map[string]any)
	how, _ := action["modifyHow"].(string)
	text := joinValues(action["values"])
	switch how {
	case ops.ModifyInsertAfter:
		b.Content += text
	case ops.ModifyInsert:
		b.Content = text + b.Content
	case ops.ModifyReplace:
		b.Content = text
	case ops.ModifyDelete:
		b.Content = ""
		b.Annotations = nil
	case ops.ModifyAnnotate, ops.ModifyClearAnnotation:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidModify, how)
	}
	return nil
}

func joinValues(raw any) string {
	var sb strings.Builder
	switch values := raw.(type) {
	case []any:
		for _, v := range values {
			if s, ok := v.(string); ok {
				sb.WriteString(s)
			}
		}
	case []string:
		for _, v := range values {
			sb.WriteString(v)
		}
	}
	return sb.String()
}

func parseWavelet(data map[string]any) Wavelet {
	w := Wavelet{
		WaveID:           getString(data, "waveId"),
		WaveletID:        getString(data, "waveletId"),
		Creator:          getString(data, "creator"),
		Title:            getString(data, "title"),
		CreationTime:     getInt64(data, "creationTime"),
		LastModifiedTime: getInt64(data, "lastModifiedTime"),
		Version:          getInt64(data, "version"),
		Participants:     getStrings(data, "participants"),
		Tags:             getStrings(data, "tags"),
		RootBlipID:       getString(data, "rootBlipId"),
		Roles:            map[string]string{},
		DataDocuments:    map[string]any{},
	}
	if roles, ok := data["participantRoles"].(map[string]any); ok {
		for participant, role := range roles {
			if r, ok := role.(string); ok {
				w.Roles[participant] = r
			}
		}
	}
	if docs, ok := data["dataDocuments"].(map[string]any); ok {
		for name, value := range docs {
			if value != nil {
				w.DataDocuments[name] = value
			}
		}
	}
	if thread, ok := data["rootThread"].(map[string]any); ok {
		w.RootThread = parseThread(thread)
	}
	return w
}

func parseBlip(data map[string]any) *Blip {
	b := &Blip{
		ID:               getString(data, "blipId"),
		WaveID:           getString(data, "waveId"),
		WaveletID:        getString(data, "waveletId"),
		ParentID:         getString(data, "parentBlipId"),
		Creator:          getString(data, "creator"),
		Content:          getString(data, "content"),
		ChildIDs:         getStrings(data, "childBlipIds"),
		Contributors:     getStrings(data, "contributors"),
		LastModifiedTime: getInt64(data, "lastModifiedTime"),
		Version:          getInt64(data, "version"),
	}
	if list, ok := data["annotations"].([]any); ok {
		for _, raw := range list {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			rng, _ := entry["range"].(map[string]any)
			start, _ := asInt(rng["start"])
			end, _ := asInt(rng["end"])
			b.Annotations = append(b.Annotations, Annotation{
				Name:  getString(entry, "name"),
				Value: getString(entry, "value"),
				Start: start,
				End:   end,
			})
		}
	}
	if elements, ok := data["elements"].(map[string]any); ok {
		b.Elements = cloneMap(elements)
	}
	return b
}

func parseThread(data map[string]any) Thread {
	return Thread{
		ID:       getString(data, "id"),
		Location: getInt64(data, "location"),
		BlipIDs:  getStrings(data, "blipIds"),
	}
}

func getString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// getInt64 accepts JSON numbers and numeric strings such as "-1".
func getInt64(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		n, _ := asInt(v)
		return int64(n)
	}
}

func getStrings(data map[string]any, key string) []string {
	list, ok := data[key].([]any)
	if !ok {
		if strs, ok := data[key].([]string); ok {
			return slices.Clone(strs)
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
