package runtime

import (
	"context"
	"time"

	"github.com/drblury/robotflow/internal/runtime/events"
	loggingpkg "github.com/drblury/robotflow/internal/runtime/logging"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

// InvocationContext provides information about a handler invocation to hooks.
type InvocationContext struct {
	Invocation
	// Context is the context the handler runs with.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnHandlerDone and OnHandlerError).
	Duration time.Duration
	// Operations is the number of operations the handler submitted (only set
	// in OnHandlerDone and OnHandlerError).
	Operations int
}

// InvocationHooks defines callbacks for the handler lifecycle.
// All hooks are optional - nil hooks are simply not called.
type InvocationHooks struct {
	// OnHandlerStart is called before the handler is invoked.
	OnHandlerStart func(ctx InvocationContext)

	// OnHandlerDone is called when a handler returns without error.
	OnHandlerDone func(ctx InvocationContext)

	// OnHandlerError is called when a handler fails, panics included.
	OnHandlerError func(ctx InvocationContext, err error)
}

// Merge combines two InvocationHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h InvocationHooks) Merge(other InvocationHooks) InvocationHooks {
	return InvocationHooks{
		OnHandlerStart: chainHooks(h.OnHandlerStart, other.OnHandlerStart),
		OnHandlerDone:  chainHooks(h.OnHandlerDone, other.OnHandlerDone),
		OnHandlerError: chainErrorHooks(h.OnHandlerError, other.OnHandlerError),
	}
}

func (h InvocationHooks) empty() bool {
	return h.OnHandlerStart == nil && h.OnHandlerDone == nil && h.OnHandlerError == nil
}

func chainHooks(a, b func(InvocationContext)) func(InvocationContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(InvocationContext, error)) func(InvocationContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// InvocationHooksMiddleware creates a middleware that invokes the provided
// hooks around every handler.
func InvocationHooksMiddleware(hooks InvocationHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "invocation_hooks",
		Middleware: invocationHooksMiddleware(hooks),
	}
}

func invocationHooksMiddleware(hooks InvocationHooks) HandlerMiddleware {
	return func(next Capability) Capability {
		return CapabilityFunc(func(ctx context.Context, evt *events.Event, doc *wavelet.Context) error {
			inv, _ := InvocationFromContext(ctx)
			hookCtx := InvocationContext{
				Invocation: inv,
				Context:    ctx,
				StartedAt:  time.Now(),
			}

			if hooks.OnHandlerStart != nil {
				hooks.OnHandlerStart(hookCtx)
			}

			err := next.Invoke(ctx, evt, doc)

			hookCtx.Duration = time.Since(hookCtx.StartedAt)
			hookCtx.Operations = inv.Submitted()

			if err != nil {
				if hooks.OnHandlerError != nil {
					hooks.OnHandlerError(hookCtx, err)
				}
			} else if hooks.OnHandlerDone != nil {
				hooks.OnHandlerDone(hookCtx)
			}

			return err
		})
	}
}

// LoggingHooks returns pre-built hooks that log the handler lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) InvocationHooks {
	fields := func(ctx InvocationContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"run_id":        ctx.RunID,
			"event_index":   ctx.EventIndex,
			"kind":          string(ctx.Kind),
			"handler":       ctx.Handler,
			"handler_index": ctx.HandlerIndex,
		}
	}
	return InvocationHooks{
		OnHandlerStart: func(ctx InvocationContext) {
			logger.Debug("Handler started", fields(ctx))
		},
		OnHandlerDone: func(ctx InvocationContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			f["operations"] = ctx.Operations
			logger.Debug("Handler completed", f)
		},
		OnHandlerError: func(ctx InvocationContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Handler failed", err, f)
		},
	}
}

// MetricsHooks returns pre-built hooks that report invocations by kind and
// handler name.
func MetricsHooks(onStart, onDone, onError func(kind, handler string)) InvocationHooks {
	return InvocationHooks{
		OnHandlerStart: func(ctx InvocationContext) {
			if onStart != nil {
				onStart(ctx.Kind.Key(), ctx.Handler)
			}
		},
		OnHandlerDone: func(ctx InvocationContext) {
			if onDone != nil {
				onDone(ctx.Kind.Key(), ctx.Handler)
			}
		},
		OnHandlerError: func(ctx InvocationContext, err error) {
			if onError != nil {
				onError(ctx.Kind.Key(), ctx.Handler)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on handler errors.
func AlertingHooks(alertFunc func(ctx InvocationContext, err error)) InvocationHooks {
	return InvocationHooks{
		OnHandlerError: alertFunc,
	}
}
