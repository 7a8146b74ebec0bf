package runtime

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

const (
	tracerName         = "github.com/drblury/robotflow"
	recovererName      = "recoverer"
	anonymousMwareName = "anonymous_middleware"
)

// HandlerMiddleware wraps a capability. Middlewares run in registration order,
// the first registered being the outermost.
type HandlerMiddleware func(Capability) Capability

// MiddlewareBuilder constructs a handler middleware using the provided robot.
type MiddlewareBuilder func(*Robot) (HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to a Robot.
type MiddlewareRegistration struct {
	Name       string
	Middleware HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain used by NewRobot.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// TracerMiddleware wraps every handler invocation in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// MetricsMiddleware records handler invocations on the robot's Metrics. It is
// skipped when the robot has none.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(r *Robot) (HandlerMiddleware, error) {
			if r.metrics == nil {
				return nil, nil
			}
			return r.metricsMiddleware(), nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors so a single bad
// handler only fails its own invocation.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       recovererName,
		Middleware: recovererMiddleware,
	}
}

// RegisterMiddleware appends the supplied middleware to the chain. It fails
// once the robot has started processing.
func (r *Robot) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if r.registry.Frozen() {
		return errors.New("middleware cannot be added once processing has started")
	}

	var mw HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(r)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	r.middlewaresMu.Lock()
	r.middlewares = append(r.middlewares, mw)
	r.middlewaresMu.Unlock()
	return nil
}

// chain wraps capability with every registered middleware.
func (r *Robot) chain(capability Capability) Capability {
	r.middlewaresMu.RLock()
	defer r.middlewaresMu.RUnlock()

	wrapped := capability
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	return wrapped
}

func tracerMiddleware(next Capability) Capability {
	return CapabilityFunc(func(ctx context.Context, evt *events.Event, doc *wavelet.Context) error {
		inv, _ := InvocationFromContext(ctx)
		ctx, span := otel.Tracer(tracerName).Start(ctx, "InvokeHandler",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("robot.event.kind", string(evt.Kind)),
				attribute.Int("robot.event.index", evt.Index),
				attribute.String("robot.handler", inv.Handler),
				attribute.Int("robot.handler.index", inv.HandlerIndex),
			),
		)
		defer span.End()

		err := next.Invoke(ctx, evt, doc)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("robot.operations", inv.Submitted()))
		return err
	})
}

func (r *Robot) metricsMiddleware() HandlerMiddleware {
	return func(next Capability) Capability {
		return CapabilityFunc(func(ctx context.Context, evt *events.Event, doc *wavelet.Context) error {
			inv, _ := InvocationFromContext(ctx)
			started := time.Now()
			err := next.Invoke(ctx, evt, doc)
			r.metrics.RecordInvocation(evt.Kind.Key(), inv.Handler, time.Since(started), err)
			return err
		})
	}
}

func recovererMiddleware(next Capability) Capability {
	return CapabilityFunc(func(ctx context.Context, evt *events.Event, doc *wavelet.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = middleware.RecoveredPanicError{V: p, Stacktrace: string(debug.Stack())}
			}
		}()
		return next.Invoke(ctx, evt, doc)
	})
}

// insertBeforeRecoverer places regs just outside the recoverer so they
// observe recovered panics as errors.
func insertBeforeRecoverer(chain, regs []MiddlewareRegistration) []MiddlewareRegistration {
	for i, reg := range chain {
		if reg.Name == recovererName {
			out := make([]MiddlewareRegistration, 0, len(chain)+len(regs))
			out = append(out, chain[:i]...)
			out = append(out, regs...)
			return append(out, chain[i:]...)
		}
	}
	return append(chain, regs...)
}
