// Package rules compiles the handler sources given on the command line or in
// configuration into capabilities. The language is a closed set of commands
// over the document context:
//
//	w.title = "Status: " + e.properties.title
//	w.participants.add(e.modifiedBy); blip.append(" (seen)")
//
// Statements are separated by ';' or newlines and // starts a comment.
package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// ErrSyntax is matched by every *SyntaxError.
var ErrSyntax = errors.New("robotflow: invalid rule")

// SyntaxError reports a rule that cannot be compiled.
type SyntaxError struct {
	Rule   string
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("robotflow: rule %q:%d:%d: %s", e.Rule, e.Line, e.Column, e.Msg)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

type expr interface {
	eval(env *env) (any, error)
}

type literal struct{ value any }

type ref struct {
	target string
	path   []string
}

type concat struct{ parts []expr }

type statement struct {
	line    int
	target  string
	command string
	args    []expr
}

type parser struct {
	name string
	s    scanner.Scanner
	tok  rune
	err  *SyntaxError
}

func parse(name, source string) ([]statement, error) {
	p := &parser{name: name}
	p.s.Init(strings.NewReader(source))
	p.s.Filename = name
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments
	p.s.Whitespace = 1<<'\t' | 1<<'\r' | 1<<' '
	p.s.Error = func(s *scanner.Scanner, msg string) {
		p.fail(s.Pos(), msg)
	}
	p.next()

	var stmts []statement
	for p.err == nil {
		for p.tok == ';' || p.tok == '\n' {
			p.next()
		}
		if p.tok == scanner.EOF {
			break
		}
		st, ok := p.statement()
		if !ok {
			break
		}
		stmts = append(stmts, st)
		if p.tok != ';' && p.tok != '\n' && p.tok != scanner.EOF {
			p.unexpected("';' or newline")
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return stmts, nil
}

func (p *parser) next() {
	p.tok = p.s.Scan()
}

func (p *parser) fail(pos scanner.Position, msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Rule: p.name, Line: pos.Line, Column: pos.Column, Msg: msg}
	}
}

func (p *parser) unexpected(want string) {
	got := p.s.TokenText()
	if p.tok == scanner.EOF {
		got = "end of rule"
	} else if p.tok == '\n' {
		got = "newline"
	}
	p.fail(p.s.Position, fmt.Sprintf("expected %s, got %q", want, got))
}

func (p *parser) expect(tok rune, want string) bool {
	if p.tok != tok {
		p.unexpected(want)
		return false
	}
	p.next()
	return true
}

func (p *parser) path() ([]string, bool) {
	if p.tok != scanner.Ident {
		p.unexpected("identifier")
		return nil, false
	}
	parts := []string{p.s.TokenText()}
	p.next()
	for p.tok == '.' {
		p.next()
		if p.tok != scanner.Ident {
			p.unexpected("identifier after '.'")
			return nil, false
		}
		parts = append(parts, p.s.TokenText())
		p.next()
	}
	return parts, true
}

func (p *parser) statement() (statement, bool) {
	pos := p.s.Position
	parts, ok := p.path()
	if !ok {
		return statement{}, false
	}
	st := statement{line: pos.Line}

	switch p.tok {
	case '=':
		p.next()
		value, ok := p.expr()
		if !ok {
			return statement{}, false
		}
		st.args = []expr{value}
		parts = append(parts[:len(parts):len(parts)], "=")
	case '(':
		p.next()
		args, ok := p.args()
		if !ok {
			return statement{}, false
		}
		st.args = args
	default:
		p.unexpected("'(' or '='")
		return statement{}, false
	}

	if err := st.resolve(parts); err != nil {
		p.fail(pos, err.Error())
		return statement{}, false
	}
	return st, true
}

func (p *parser) args() ([]expr, bool) {
	var args []expr
	if p.tok == ')' {
		p.next()
		return args, true
	}
	for {
		arg, ok := p.expr()
		if !ok {
			return nil, false
		}
		args = append(args, arg)
		if p.tok == ',' {
			p.next()
			continue
		}
		return args, p.expect(')', "',' or ')'")
	}
}

func (p *parser) expr() (expr, bool) {
	first, ok := p.term()
	if !ok {
		return nil, false
	}
	if p.tok != '+' {
		return first, true
	}
	parts := []expr{first}
	for p.tok == '+' {
		p.next()
		term, ok := p.term()
		if !ok {
			return nil, false
		}
		parts = append(parts, term)
	}
	return concat{parts: parts}, true
}

func (p *parser) term() (expr, bool) {
	switch p.tok {
	case scanner.String, scanner.RawString:
		text := p.s.TokenText()
		value, err := strconv.Unquote(text)
		if err != nil {
			p.fail(p.s.Position, "invalid string literal "+text)
			return nil, false
		}
		p.next()
		return literal{value: value}, true
	case scanner.Int:
		text := p.s.TokenText()
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			p.fail(p.s.Position, "invalid number "+text)
			return nil, false
		}
		p.next()
		return literal{value: n}, true
	case '-':
		p.next()
		if p.tok != scanner.Int {
			p.unexpected("number after '-'")
			return nil, false
		}
		n, err := strconv.ParseInt("-"+p.s.TokenText(), 0, 64)
		if err != nil {
			p.fail(p.s.Position, "invalid number")
			return nil, false
		}
		p.next()
		return literal{value: n}, true
	case scanner.Ident:
		pos := p.s.Position
		parts, ok := p.path()
		if !ok {
			return nil, false
		}
		r, err := newRef(parts)
		if err != nil {
			p.fail(pos, err.Error())
			return nil, false
		}
		return r, true
	default:
		p.unexpected("string, number or reference")
		return nil, false
	}
}

var targetAliases = map[string]string{
	"w":       targetWavelet,
	"wavelet": targetWavelet,
	"e":       targetEvent,
	"event":   targetEvent,
	"root":    targetRoot,
	"blip":    targetBlip,
}

const (
	targetWavelet = "wavelet"
	targetEvent   = "event"
	targetRoot    = "root"
	targetBlip    = "blip"
	targetNone    = ""
)

var refFields = map[string]map[string]bool{
	targetEvent: {
		"modifiedBy": true, "type": true, "timestamp": true, "blipId": true,
		"proxyingFor": true, "waveId": true, "waveletId": true, "version": true,
	},
	targetWavelet: {
		"title": true, "waveId": true, "waveletId": true, "creator": true,
		"domain": true, "rootBlipId": true,
	},
	targetRoot: {"id": true, "text": true, "creator": true},
	targetBlip: {"id": true, "text": true, "creator": true, "parentId": true},
}

func newRef(parts []string) (ref, error) {
	target, ok := targetAliases[parts[0]]
	if !ok {
		return ref{}, fmt.Errorf("unknown reference %q", strings.Join(parts, "."))
	}
	rest := parts[1:]
	if target == targetEvent && len(rest) == 2 && rest[0] == "properties" {
		return ref{target: target, path: rest}, nil
	}
	if len(rest) != 1 || !refFields[target][rest[0]] {
		return ref{}, fmt.Errorf("unknown reference %q", strings.Join(parts, "."))
	}
	return ref{target: target, path: rest}, nil
}

// arity bounds per command, keyed by target then command path.
var commands = map[string]map[string][2]int{
	targetWavelet: {
		"title.=":              {1, 1},
		"reply":                {0, 1},
		"participants.add":     {1, 1},
		"participants.setRole": {2, 2},
		"tags.append":          {1, 1},
		"tags.remove":          {1, 1},
		"dataDocuments.set":    {2, 2},
		"dataDocuments.delete": {1, 1},
		"delete":               {1, 1},
		"proxyFor":             {1, 1},
	},
	targetRoot: blipCommands,
	targetBlip: blipCommands,
	targetNone: {
		"fail": {0, 1},
	},
}

var blipCommands = map[string][2]int{
	"append":           {1, 1},
	"appendMarkup":     {1, 1},
	"reply":            {0, 0},
	"continueThread":   {0, 0},
	"insertInlineBlip": {1, 1},
}

func (st *statement) resolve(parts []string) error {
	target, command := targetNone, strings.Join(parts, ".")
	if len(parts) > 1 {
		t, ok := targetAliases[parts[0]]
		if !ok {
			return fmt.Errorf("unknown target %q", parts[0])
		}
		if t == targetEvent {
			return errors.New("event is read only")
		}
		target, command = t, strings.Join(parts[1:], ".")
	}
	bounds, ok := commands[target][command]
	if !ok {
		if strings.HasSuffix(command, ".=") || command == "=" {
			return fmt.Errorf("cannot assign to %s", strings.Join(parts[:len(parts)-1], "."))
		}
		return fmt.Errorf("unknown command %s", strings.Join(parts, "."))
	}
	if len(st.args) < bounds[0] || len(st.args) > bounds[1] {
		return fmt.Errorf("%s takes %s, got %d", strings.Join(parts, "."), arityText(bounds), len(st.args))
	}
	st.target, st.command = target, command
	return nil
}

func arityText(bounds [2]int) string {
	switch {
	case bounds[0] == bounds[1] && bounds[0] == 1:
		return "1 argument"
	case bounds[0] == bounds[1]:
		return fmt.Sprintf("%d arguments", bounds[0])
	default:
		return fmt.Sprintf("%d to %d arguments", bounds[0], bounds[1])
	}
}
