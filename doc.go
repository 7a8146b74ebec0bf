// Package robotflow runs Wave robots: programs that receive a batch of
// wavelet events, react to them, and answer with the operations they want the
// wave server to apply.
//
// A Robot keeps a registry of handlers per event kind. Process decodes the
// request envelope, builds a read-only snapshot of the wavelet, and invokes
// every handler registered for each event in batch order. Handlers express
// changes only by submitting operations through their wavelet Context; the
// operations are recorded in submission order, applied to the snapshot so
// later handlers observe them, and encoded into the response together with
// any per-event or per-handler errors.
//
// Handlers are either Go code (Capability, CapabilityFunc) or small rule
// programs given in Config.Handlers, which is how the robotrunner command
// line tool wires its --eventdef-<kind> flags.
//
// # Middleware
//
// The default middleware chain wraps each invocation with an OpenTelemetry
// span, Prometheus counters (when RobotDependencies.Metrics is set) and panic
// recovery. InvocationHooks add OnHandlerStart, OnHandlerDone and
// OnHandlerError callbacks for logging, metrics and alerting.
//
// # Messaging
//
// NewMessageHandler turns a Robot into a Watermill handler and NewRouter
// binds it between two topics, so the same robot can answer envelopes coming
// from a message bus instead of stdin.
package robotflow
