package wavelet

import (
	"github.com/drblury/robotflow/internal/runtime/ops"
)

// Context is what a handler receives: read access to the snapshot and a
// write-only sink. Every mutation helper submits exactly one operation and
// the snapshot reflects it once the recorder accepts it.
type Context struct {
	snap         *Snapshot
	sink         ops.Sink
	proxyFor     string
	robotAddress string
}

// NewContext binds a snapshot to the sink of one handler invocation.
func NewContext(snap *Snapshot, sink ops.Sink) *Context {
	return &Context{snap: snap, sink: sink}
}

// WithRobotAddress records the address of the running robot, used to derive
// proxying participants.
func (c *Context) WithRobotAddress(address string) *Context {
	clone := *c
	clone.robotAddress = address
	return &clone
}

// ProxyFor returns a view whose operations carry proxyingFor=id. When the
// robot address is known the proxying participant is added to the wavelet
// first, as the server requires.
func (c *Context) ProxyFor(id string) (*Context, error) {
	if err := ValidateProxyFor(id); err != nil {
		return nil, err
	}
	clone := *c
	clone.proxyFor = id
	if c.robotAddress == "" || id == "" {
		return &clone, nil
	}
	participant, err := ProxyingParticipant(c.robotAddress, id)
	if err != nil {
		return nil, err
	}
	if err := c.AddParticipant(participant); err != nil {
		return nil, err
	}
	return &clone, nil
}

// ProxyingFor returns the id operations are stamped with, or "".
func (c *Context) ProxyingFor() string { return c.proxyFor }

func (c *Context) RobotAddress() string { return c.robotAddress }

func (c *Context) Wavelet() Wavelet { return c.snap.Wavelet() }

func (c *Context) WaveID() string { return c.snap.wavelet.WaveID }

func (c *Context) WaveletID() string { return c.snap.wavelet.WaveletID }

func (c *Context) Title() string { return c.snap.wavelet.Title }

func (c *Context) Blip(id string) (Blip, bool) { return c.snap.Blip(id) }

func (c *Context) RootBlip() (Blip, bool) { return c.snap.Blip(c.snap.wavelet.RootBlipID) }

func (c *Context) BlipIDs() []string { return c.snap.BlipIDs() }

func (c *Context) DataDocument(name string) (any, bool) {
	v, ok := c.snap.wavelet.DataDocuments[name]
	return v, ok
}

// SetTitle changes the wavelet title and the first line of the root blip.
func (c *Context) SetTitle(title string) error {
	return c.submit(ops.NewSetTitle(c.WaveID(), c.WaveletID(), title))
}

// Reply appends a new blip to the root conversation and returns its
// temporary id. Empty content starts the blip with a newline.
func (c *Context) Reply(content string) (string, error) {
	if content == "" {
		content = "\n"
	}
	id := c.sink.TemporaryBlipID(c.WaveletID())
	data := ops.BlipData(c.WaveID(), c.WaveletID(), id, content, "")
	if err := c.submit(ops.NewAppendBlip(c.WaveID(), c.WaveletID(), data)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Context) AddParticipant(participant string) error {
	return c.submit(ops.NewAddParticipant(c.WaveID(), c.WaveletID(), participant))
}

// SetParticipantRole accepts ops.RoleFull or ops.RoleReadOnly.
func (c *Context) SetParticipantRole(participant, role string) error {
	return c.submit(ops.NewModifyParticipantRole(c.WaveID(), c.WaveletID(), participant, role))
}

// AddTag is a no-op when the tag is already present.
func (c *Context) AddTag(tag string) error {
	if c.snap.wavelet.HasTag(tag) {
		return nil
	}
	return c.submit(ops.NewModifyTag(c.WaveID(), c.WaveletID(), tag, ""))
}

// RemoveTag is a no-op when the tag is absent.
func (c *Context) RemoveTag(tag string) error {
	if !c.snap.wavelet.HasTag(tag) {
		return nil
	}
	return c.submit(ops.NewModifyTag(c.WaveID(), c.WaveletID(), tag, "remove"))
}

func (c *Context) SetDataDocument(name string, value any) error {
	return c.submit(ops.NewDatadocSet(c.WaveID(), c.WaveletID(), name, value))
}

// DeleteDataDocument is a no-op when the document does not exist.
func (c *Context) DeleteDataDocument(name string) error {
	if _, ok := c.snap.wavelet.DataDocuments[name]; !ok {
		return nil
	}
	return c.submit(ops.NewDatadocSet(c.WaveID(), c.WaveletID(), name, nil))
}

func (c *Context) DeleteBlip(blipID string) error {
	return c.submit(ops.NewDeleteBlip(c.WaveID(), c.WaveletID(), blipID))
}

// AppendText inserts text at the end of the blip's content.
func (c *Context) AppendText(blipID, text string) error {
	return c.submit(ops.NewDocumentModify(c.WaveID(), c.WaveletID(), blipID, ops.ModifyInsertAfter, []string{text}))
}

func (c *Context) AppendMarkup(blipID, markup string) error {
	return c.submit(ops.NewAppendMarkup(c.WaveID(), c.WaveletID(), blipID, markup))
}

// ReplyTo creates a child blip of blipID and returns its temporary id.
func (c *Context) ReplyTo(blipID string) (string, error) {
	id := c.sink.TemporaryBlipID(c.WaveletID())
	data := ops.BlipData(c.WaveID(), c.WaveletID(), id, "", blipID)
	if err := c.submit(ops.NewCreateChild(c.WaveID(), c.WaveletID(), blipID, data)); err != nil {
		return "", err
	}
	return id, nil
}

// ContinueThread adds a blip after blipID in the same thread.
func (c *Context) ContinueThread(blipID string) (string, error) {
	id := c.sink.TemporaryBlipID(c.WaveletID())
	data := ops.BlipData(c.WaveID(), c.WaveletID(), id, "", "")
	if err := c.submit(ops.NewContinueThread(c.WaveID(), c.WaveletID(), blipID, data)); err != nil {
		return "", err
	}
	return id, nil
}

// InsertInlineBlip inserts a blip inside blipID at position, which must be
// greater than 0.
func (c *Context) InsertInlineBlip(blipID string, position int) (string, error) {
	if position <= 0 {
		return "", ErrInvalidPosition
	}
	id := c.sink.TemporaryBlipID(c.WaveletID())
	data := ops.BlipData(c.WaveID(), c.WaveletID(), id, "", blipID)
	if err := c.submit(ops.NewInlineBlipInsert(c.WaveID(), c.WaveletID(), blipID, position, data)); err != nil {
		return "", err
	}
	return id, nil
}

// Submit forwards a prebuilt operation, stamping proxyingFor when set.
func (c *Context) Submit(op ops.Operation) error {
	return c.submit(op)
}

func (c *Context) submit(op ops.Operation) error {
	if c.proxyFor != "" {
		if op.Params == nil {
			op.Params = map[string]any{}
		}
		op.Params["proxyingFor"] = c.proxyFor
	}
	return c.sink.Submit(op)
}
