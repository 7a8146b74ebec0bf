package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

// Capability is a unit of handler logic. It reads the event and the document
// context and expresses every change as an operation submitted through doc.
type Capability interface {
	Invoke(ctx context.Context, evt *events.Event, doc *wavelet.Context) error
}

// CapabilityFunc adapts a plain function to Capability.
type CapabilityFunc func(ctx context.Context, evt *events.Event, doc *wavelet.Context) error

func (f CapabilityFunc) Invoke(ctx context.Context, evt *events.Event, doc *wavelet.Context) error {
	return f(ctx, evt, doc)
}

// Contexts a handler can ask the server to include with its events.
const (
	ContextRoot     = "ROOT"
	ContextParent   = "PARENT"
	ContextChildren = "CHILDREN"
	ContextSelf     = "SELF"
	ContextSiblings = "SIBLINGS"
	ContextAll      = "ALL"
)

var validContexts = []string{ContextRoot, ContextParent, ContextChildren, ContextSelf, ContextSiblings, ContextAll}

// HandlerRegistration binds a capability to an event kind. Context and Filter
// are only advertised in the capabilities document.
type HandlerRegistration struct {
	Kind       events.Kind
	Name       string
	Capability Capability
	Context    string
	Filter     string
}

// HandlerInfo describes one registered handler and its runtime statistics.
type HandlerInfo struct {
	Kind    string        `json:"kind"`
	Name    string        `json:"name"`
	Context string        `json:"context,omitempty"`
	Filter  string        `json:"filter,omitempty"`
	Stats   *HandlerStats `json:"stats"`
}

type registeredHandler struct {
	HandlerRegistration
	stats *HandlerStats
}

// Registry maps event kinds to their handlers in registration order. It
// accepts registrations until the first dispatch freezes it.
type Registry struct {
	mu     sync.RWMutex
	byKind map[events.Kind][]*registeredHandler
	order  []*registeredHandler
	frozen bool
	hash   uint32
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[events.Kind][]*registeredHandler)}
}

// Register appends capability to the handlers of kind. An empty name
// defaults to "<kind key>#<n>".
func (r *Registry) Register(kind events.Kind, name string, capability Capability) error {
	return r.RegisterHandler(HandlerRegistration{Kind: kind, Name: name, Capability: capability})
}

// RegisterHandler appends reg. Earlier registrations for the same kind are
// kept and run first.
func (r *Registry) RegisterHandler(reg HandlerRegistration) error {
	if reg.Capability == nil {
		return errspkg.ErrHandlerRequired
	}
	if !reg.Kind.Known() {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEventKind, string(reg.Kind))
	}
	normalized, err := normalizeContext(reg.Context)
	if err != nil {
		return err
	}
	reg.Context = normalized

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errspkg.ErrRegistryFrozen
	}
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("%s#%d", reg.Kind.Key(), len(r.byKind[reg.Kind]))
	}

	entry := &registeredHandler{HandlerRegistration: reg, stats: newHandlerStats()}
	r.byKind[reg.Kind] = append(r.byKind[reg.Kind], entry)
	r.order = append(r.order, entry)
	r.hash = foldCapability(r.hash, string(reg.Kind), reg.Context, reg.Filter)
	return nil
}

// HandlersFor returns the registrations for kind in the order they run. The
// result is empty, never an error, when nothing is registered.
func (r *Registry) HandlersFor(kind events.Kind) []HandlerRegistration {
	entries := r.entriesFor(kind)
	out := make([]HandlerRegistration, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.HandlerRegistration)
	}
	return out
}

func (r *Registry) entriesFor(kind events.Kind) []*registeredHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byKind[kind])
}

// Kinds returns the kinds with at least one handler, sorted.
func (r *Registry) Kinds() []events.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]events.Kind, 0, len(r.byKind))
	for kind := range r.byKind {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Freeze rejects further registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// HandlerInfos lists every registration with its statistics in registration
// order.
func (r *Registry) HandlerInfos() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.order))
	for _, entry := range r.order {
		infos = append(infos, HandlerInfo{
			Kind:    entry.Kind.Key(),
			Name:    entry.Name,
			Context: entry.Context,
			Filter:  entry.Filter,
			Stats:   entry.stats,
		})
	}
	return infos
}

// normalizeContext upper-cases a comma separated context list and rejects
// names the server does not know.
func normalizeContext(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))
		if !slices.Contains(validContexts, part) {
			return "", fmt.Errorf("%w: %q", errspkg.ErrInvalidContext, part)
		}
		parts[i] = part
	}
	return strings.Join(parts, ","), nil
}
