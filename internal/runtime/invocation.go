package runtime

import (
	"context"

	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/ops"
)

// Invocation identifies the handler call a context belongs to.
type Invocation struct {
	RunID        string
	EventIndex   int
	Kind         events.Kind
	HandlerIndex int
	Handler      string

	scope *ops.Scope
}

// Submitted returns the number of operations the invocation has recorded so
// far.
func (i Invocation) Submitted() int {
	if i.scope == nil {
		return 0
	}
	return i.scope.Submitted()
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation a handler context was created
// for.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
