package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

var (
	// ErrRuleFailed is wrapped by errors raised through fail(...).
	ErrRuleFailed = errors.New("robotflow: rule failed")
	// ErrNoBlip is returned when a statement targets a blip the snapshot
	// does not hold.
	ErrNoBlip = errors.New("robotflow: rule target blip is not available")
)

// Program is a compiled handler source. It satisfies the runtime
// Capability interface.
type Program struct {
	name   string
	source string
	stmts  []statement
}

// Compile parses source. An empty source compiles to a program that does
// nothing.
func Compile(name, source string) (*Program, error) {
	stmts, err := parse(name, source)
	if err != nil {
		return nil, err
	}
	return &Program{name: name, source: source, stmts: stmts}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(name, source string) *Program {
	p, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Name() string   { return p.name }
func (p *Program) Source() string { return p.source }
func (p *Program) Len() int       { return len(p.stmts) }

// Invoke runs the statements in order and stops at the first error. Blip
// targets resolve against the snapshot at the time each statement runs.
func (p *Program) Invoke(ctx context.Context, ev *events.Event, doc *wavelet.Context) error {
	e := &env{event: ev, doc: doc}
	for _, st := range p.stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.exec(st); err != nil {
			return fmt.Errorf("rule %q line %d: %w", p.name, st.line, err)
		}
	}
	return nil
}

type env struct {
	event *events.Event
	doc   *wavelet.Context
}

func (e *env) exec(st statement) error {
	args := make([]any, len(st.args))
	for i, arg := range st.args {
		v, err := arg.eval(e)
		if err != nil {
			return err
		}
		args[i] = v
	}

	switch st.target {
	case targetNone:
		msg := "fail() called"
		if len(args) == 1 {
			msg = toString(args[0])
		}
		return fmt.Errorf("%w: %s", ErrRuleFailed, msg)
	case targetWavelet:
		return e.execWavelet(st.command, args)
	default:
		blipID, err := e.blipID(st.target)
		if err != nil {
			return err
		}
		return e.execBlip(blipID, st.command, args)
	}
}

func (e *env) execWavelet(command string, args []any) error {
	doc := e.doc
	switch command {
	case "title.=":
		return doc.SetTitle(toString(args[0]))
	case "reply":
		content := ""
		if len(args) == 1 {
			content = toString(args[0])
		}
		_, err := doc.Reply(content)
		return err
	case "participants.add":
		return doc.AddParticipant(toString(args[0]))
	case "participants.setRole":
		return doc.SetParticipantRole(toString(args[0]), toString(args[1]))
	case "tags.append":
		return doc.AddTag(toString(args[0]))
	case "tags.remove":
		return doc.RemoveTag(toString(args[0]))
	case "dataDocuments.set":
		return doc.SetDataDocument(toString(args[0]), toString(args[1]))
	case "dataDocuments.delete":
		return doc.DeleteDataDocument(toString(args[0]))
	case "delete":
		return doc.DeleteBlip(toString(args[0]))
	case "proxyFor":
		proxied, err := doc.ProxyFor(toString(args[0]))
		if err != nil {
			return err
		}
		e.doc = proxied
		return nil
	}
	return fmt.Errorf("unknown wavelet command %s", command)
}

func (e *env) execBlip(blipID, command string, args []any) error {
	doc := e.doc
	var err error
	switch command {
	case "append":
		err = doc.AppendText(blipID, toString(args[0]))
	case "appendMarkup":
		err = doc.AppendMarkup(blipID, toString(args[0]))
	case "reply":
		_, err = doc.ReplyTo(blipID)
	case "continueThread":
		_, err = doc.ContinueThread(blipID)
	case "insertInlineBlip":
		position, convErr := toInt(args[0])
		if convErr != nil {
			return convErr
		}
		_, err = doc.InsertInlineBlip(blipID, position)
	default:
		err = fmt.Errorf("unknown blip command %s", command)
	}
	return err
}

func (e *env) blipID(target string) (string, error) {
	var id string
	switch target {
	case targetRoot:
		id = e.doc.Wavelet().RootBlipID
	case targetBlip:
		if e.event != nil {
			id = e.event.BlipID
		}
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoBlip, target)
	}
	if _, ok := e.doc.Blip(id); !ok {
		return "", fmt.Errorf("%w: %s %q", ErrNoBlip, target, id)
	}
	return id, nil
}

func (l literal) eval(*env) (any, error) { return l.value, nil }

func (c concat) eval(e *env) (any, error) {
	out := ""
	for _, part := range c.parts {
		v, err := part.eval(e)
		if err != nil {
			return nil, err
		}
		out += toString(v)
	}
	return out, nil
}

func (r ref) eval(e *env) (any, error) {
	switch r.target {
	case targetEvent:
		if e.event == nil {
			return nil, nil
		}
		if r.path[0] == "properties" {
			return e.event.Property(r.path[1]), nil
		}
		v, _ := e.event.Field(r.path[0])
		return v, nil
	case targetWavelet:
		w := e.doc.Wavelet()
		switch r.path[0] {
		case "title":
			return w.Title, nil
		case "waveId":
			return w.WaveID, nil
		case "waveletId":
			return w.WaveletID, nil
		case "creator":
			return w.Creator, nil
		case "domain":
			return w.Domain(), nil
		case "rootBlipId":
			return w.RootBlipID, nil
		}
	case targetRoot, targetBlip:
		id, err := e.blipID(r.target)
		if err != nil {
			return nil, err
		}
		b, _ := e.doc.Blip(id)
		switch r.path[0] {
		case "id":
			return b.ID, nil
		case "text":
			return b.Content, nil
		case "creator":
			return b.Creator, nil
		case "parentId":
			return b.ParentID, nil
		}
	}
	return nil, fmt.Errorf("unknown reference %s.%s", r.target, r.path[0])
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("robotflow: %q is not a number", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("robotflow: %v is not a number", v)
}
