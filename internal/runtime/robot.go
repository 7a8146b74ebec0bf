package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	configpkg "github.com/drblury/robotflow/internal/runtime/config"
	"github.com/drblury/robotflow/internal/runtime/envelope"
	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	"github.com/drblury/robotflow/internal/runtime/events"
	idspkg "github.com/drblury/robotflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/robotflow/internal/runtime/logging"
	"github.com/drblury/robotflow/internal/runtime/ops"
	"github.com/drblury/robotflow/internal/runtime/rules"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

// RobotDependencies holds the optional collaborators of a Robot. Leave fields
// nil to skip the related behaviour.
type RobotDependencies struct {
	Registry                  *Registry
	Metrics                   *Metrics
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Hooks                     InvocationHooks          // Run just outside the recoverer.
	ErrorClassifier           ErrorClassifier
}

// Robot dispatches the events of a request envelope to registered handlers
// and encodes the operations they produce. The registry is frozen by the
// first call to Process; after that a Robot is safe for concurrent use.
type Robot struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry *Registry
	metrics  *Metrics

	middlewares   []HandlerMiddleware
	middlewaresMu sync.RWMutex

	errorClassifier ErrorClassifier
}

// NewRobot validates conf, builds the middleware chain and registers the
// handlers configured in conf.Handlers.
func NewRobot(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps RobotDependencies) (*Robot, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	cfg := *conf
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating robot", loggingpkg.LogFields{
		"name":   cfg.Name,
		"config": cfg.String(),
	})

	r := &Robot{
		Conf:            &cfg,
		Logger:          log,
		registry:        deps.Registry,
		metrics:         deps.Metrics,
		errorClassifier: deps.ErrorClassifier,
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	if r.errorClassifier == nil {
		r.errorClassifier = defaultErrorClassifier
	}

	if err := r.metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := r.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	if err := r.registerConfiguredHandlers(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Robot) registerConfiguredMiddlewares(deps RobotDependencies) error {
	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = DefaultMiddlewares()
	}
	if !deps.Hooks.empty() {
		registrations = insertBeforeRecoverer(registrations, []MiddlewareRegistration{InvocationHooksMiddleware(deps.Hooks)})
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := r.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = anonymousMwareName
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// registerConfiguredHandlers compiles the rule source configured per kind.
func (r *Robot) registerConfiguredHandlers() error {
	for _, kind := range r.Conf.HandlerKinds() {
		source, _ := r.Conf.HandlerSource(kind)
		program, err := rules.Compile(kind.Key(), source)
		if err != nil {
			return fmt.Errorf("handler %s: %w", kind.Key(), err)
		}
		err = r.registry.RegisterHandler(HandlerRegistration{
			Kind:       kind,
			Name:       kind.Key(),
			Capability: program,
			Context:    r.Conf.HandlerContext(kind),
			Filter:     r.Conf.HandlerFilter(kind),
		})
		if err != nil {
			return fmt.Errorf("handler %s: %w", kind.Key(), err)
		}
		r.Logger.Debug("Registered handler", loggingpkg.LogFields{
			"kind":       kind.Key(),
			"statements": program.Len(),
		})
	}
	return nil
}

// Register adds capability for kind. It fails once processing has started.
func (r *Robot) Register(kind events.Kind, name string, capability Capability) error {
	return r.registry.Register(kind, name, capability)
}

// RegisterHandler adds a full registration. It fails once processing has
// started.
func (r *Robot) RegisterHandler(reg HandlerRegistration) error {
	return r.registry.RegisterHandler(reg)
}

func (r *Robot) Registry() *Registry { return r.registry }

func (r *Robot) Metrics() *Metrics { return r.metrics }

// CapabilitiesXML renders the capabilities document of the registered
// handlers.
func (r *Robot) CapabilitiesXML() string {
	return r.registry.CapabilitiesXML(r.Conf.ConsumerKey)
}

// Process handles one request envelope without a deadline beyond the
// configured process timeout.
func (r *Robot) Process(raw []byte) ([]byte, error) {
	return r.ProcessContext(context.Background(), raw)
}

// ProcessContext decodes raw, dispatches its events and encodes the response
// in the configured output format. Only decode failures, sink misuse and an
// exhausted budget are returned as errors; handler and event failures are
// reported inside the response.
func (r *Robot) ProcessContext(ctx context.Context, raw []byte) ([]byte, error) {
	resp, err := r.Dispatch(ctx, raw)
	if err != nil {
		return nil, err
	}
	if r.Conf.OutputFormat == configpkg.OutputJSONRPC {
		for _, entry := range resp.Errors {
			r.Logger.Warn("Error dropped from jsonrpc response", loggingpkg.LogFields{
				"event_index": entry.EventIndex,
				"kind":        entry.Kind,
				"message":     entry.Message,
			})
		}
	}
	return envelope.Encode(*resp, r.Conf.OutputFormat, r.Conf.MethodPrefix)
}

// Dispatch runs every handler for the events of raw and returns the
// unencoded response.
func (r *Robot) Dispatch(ctx context.Context, raw []byte) (*envelope.Response, error) {
	r.registry.Freeze()

	run := &dispatchRun{
		robot:  r,
		runID:  idspkg.NewRunID(),
		budget: r.Conf.ProcessTimeout,
	}
	run.log = r.Logger.With(loggingpkg.LogFields{"run_id": run.runID})

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ProcessEnvelope")
	defer span.End()

	if run.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.budget)
		defer cancel()
	}

	started := time.Now()
	resp, err := run.execute(ctx, raw)
	duration := time.Since(started)
	r.metrics.RecordProcess(duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		run.log.Error("Processing failed", err, loggingpkg.LogFields{
			"duration_ms": duration.Milliseconds(),
		})
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("robot.events", run.events),
		attribute.Int("robot.operations", len(resp.Operations)),
		attribute.Int("robot.errors", len(resp.Errors)),
	)
	run.log.Info("Processed envelope", loggingpkg.LogFields{
		"events":      run.events,
		"operations":  len(resp.Operations),
		"errors":      len(resp.Errors),
		"duration_ms": duration.Milliseconds(),
	})
	return resp, nil
}

// dispatchRun is the state of one Dispatch call.
type dispatchRun struct {
	robot  *Robot
	runID  string
	log    loggingpkg.ServiceLogger
	budget time.Duration

	events  int
	entries []envelope.ErrorEntry
}

func (d *dispatchRun) execute(ctx context.Context, raw []byte) (*envelope.Response, error) {
	r := d.robot

	in, err := envelope.Decode(raw)
	if err != nil {
		r.metrics.RecordDecodeFailure()
		return nil, err
	}
	snap, err := wavelet.NewSnapshot(in.Wavelet, in.Blips, in.Threads)
	if err != nil {
		r.metrics.RecordDecodeFailure()
		return nil, &errspkg.ProtocolDecodeError{Offset: -1, Err: err}
	}

	proxyFor := r.Conf.ProxyFor
	if proxyFor == "" {
		proxyFor = in.ProxyingFor
	}
	if err := wavelet.ValidateProxyFor(proxyFor); err != nil {
		r.metrics.RecordDecodeFailure()
		return nil, &errspkg.ProtocolDecodeError{Offset: -1, Err: fmt.Errorf("proxyingFor: %w", err)}
	}
	robotAddress := r.Conf.RobotAddress
	if robotAddress == "" {
		robotAddress = in.RobotAddress
	}

	rec := ops.NewRecorder(snap)
	w := snap.Wavelet()
	doc := events.Document{WaveID: w.WaveID, WaveletID: w.WaveletID, Version: w.Version}
	d.events = len(in.Events)

	for i := range in.Events {
		if err := d.checkBudget(ctx, i); err != nil {
			return nil, err
		}
		evt, err := events.Parse(i, in.Event(i), doc)
		if err != nil {
			d.skipEvent(i, in.Event(i), err)
			continue
		}
		r.metrics.RecordEvent(evt.Kind.Key(), EventDispatched)

		for j, handler := range r.registry.entriesFor(evt.Kind) {
			if err := d.checkBudget(ctx, i); err != nil {
				return nil, err
			}
			scope := rec.Open()
			hctx := wavelet.NewContext(snap, scope)
			if proxyFor != "" {
				// proxyFor was validated above.
				hctx, _ = hctx.ProxyFor(proxyFor)
			}
			hctx = hctx.WithRobotAddress(robotAddress)

			inv := Invocation{
				RunID:        d.runID,
				EventIndex:   i,
				Kind:         evt.Kind,
				HandlerIndex: j,
				Handler:      handler.Name,
				scope:        scope,
			}
			started := time.Now()
			err := d.invoke(withInvocation(ctx, inv), handler.Capability, evt, hctx)
			scope.Close()
			handler.stats.record(time.Since(started), scope.Submitted(), err, r.errorClassifier)

			if violation := rec.Violation(); violation != nil {
				return nil, violation
			}
			if err != nil {
				if ctxErr := d.checkBudget(ctx, i); ctxErr != nil && errors.Is(err, ctx.Err()) {
					return nil, ctxErr
				}
				d.handlerFailed(evt, j, handler.Name, err)
			}
		}
	}

	rec.Seal()
	operations := rec.Operations()
	r.metrics.RecordOperations(operations)

	entries := d.entries
	if entries == nil {
		entries = []envelope.ErrorEntry{}
	}
	return &envelope.Response{
		CapabilitiesHash: r.registry.CapabilitiesHash(),
		Errors:           entries,
		Operations:       operations,
		ProtocolVersion:  ops.ProtocolVersion,
	}, nil
}

// invoke runs the wrapped capability. Panics that escape the middleware
// chain are still turned into errors.
func (d *dispatchRun) invoke(ctx context.Context, capability Capability, evt *events.Event, doc *wavelet.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = middleware.RecoveredPanicError{V: p, Stacktrace: string(debug.Stack())}
		}
	}()
	return d.robot.chain(capability).Invoke(ctx, evt, doc)
}

func (d *dispatchRun) checkBudget(ctx context.Context, eventIndex int) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &errspkg.TimeoutError{Budget: d.budget, EventIndex: eventIndex}
	default:
		return fmt.Errorf("robotflow: processing cancelled before event %d: %w", eventIndex, err)
	}
}

func (d *dispatchRun) skipEvent(index int, raw map[string]any, err error) {
	r := d.robot
	typeName, _ := raw["type"].(string)
	metricKind := "unknown"
	if kind, ok := events.ParseKind(typeName); ok {
		metricKind = kind.Key()
	}

	var malformed *errspkg.MalformedEventError
	switch {
	case errors.As(err, &malformed):
		r.metrics.RecordEvent(metricKind, EventMalformed)
		d.log.Warn("Skipping malformed event", loggingpkg.LogFields{
			"event_index": index,
			"type":        typeName,
			"error":       err.Error(),
		})
		d.entries = append(d.entries, envelope.ErrorEntry{
			EventIndex: index,
			EventType:  typeName,
			Kind:       envelope.KindMalformedEvent,
			Message:    err.Error(),
		})
	case r.Conf.RejectUnknownEvents():
		r.metrics.RecordEvent(metricKind, EventRejected)
		d.entries = append(d.entries, envelope.ErrorEntry{
			EventIndex: index,
			EventType:  typeName,
			Kind:       envelope.KindUnknownEvent,
			Message:    err.Error(),
		})
	default:
		r.metrics.RecordEvent(metricKind, EventIgnored)
		d.log.Warn("Ignoring unknown event kind", loggingpkg.LogFields{
			"event_index": index,
			"type":        typeName,
		})
	}
}

func (d *dispatchRun) handlerFailed(evt *events.Event, handlerIndex int, name string, err error) {
	herr := &errspkg.HandlerExecutionError{
		EventIndex:   evt.Index,
		HandlerIndex: handlerIndex,
		Handler:      name,
		Err:          err,
	}
	d.log.Error("Handler failed", herr, loggingpkg.LogFields{
		"event_index":   evt.Index,
		"kind":          string(evt.Kind),
		"handler":       name,
		"handler_index": handlerIndex,
	})
	idx := handlerIndex
	d.entries = append(d.entries, envelope.ErrorEntry{
		EventIndex:   evt.Index,
		EventType:    string(evt.Kind),
		HandlerIndex: &idx,
		Handler:      name,
		Kind:         envelope.KindHandlerFailed,
		Message:      entryMessage(err),
	})
}

// entryMessage renders err for the response. Recovered panics drop their
// stack trace so that identical input keeps producing identical output.
func entryMessage(err error) string {
	var recovered middleware.RecoveredPanicError
	if errors.As(err, &recovered) {
		return fmt.Sprintf("panic: %v", recovered.V)
	}
	return err.Error()
}
