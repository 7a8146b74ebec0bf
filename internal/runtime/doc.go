/*
Package runtime provides the event dispatch core of robotflow.

# Architecture Overview

A Robot receives the batch a wave server posts to it (the request envelope),
runs every handler registered for each event kind, records the operations
the handlers submit, and encodes them into the response envelope.

# Package Structure

## Robot (robot.go)

The Robot struct wires together:
  - the handler Registry
  - the middleware chain
  - optional Prometheus Metrics
  - the configuration and logger

Dispatch decodes the envelope, builds the wavelet snapshot, and runs the
handlers of every event in order. Each invocation gets its own operation
scope that closes when the handler returns.

## Handler Registration (registration.go, capabilities.go)

The Registry keeps handlers per kind in registration order and is frozen by
the first dispatch. Every registration is folded into the capabilities hash
advertised in each response.

## Middleware (middleware.go, hooks.go)

Capabilities are wrapped by a middleware chain:
  - Tracer: OpenTelemetry span per invocation
  - Metrics: Prometheus invocation counters
  - Hooks: lifecycle callbacks
  - Recoverer: panic recovery

## Stats & Monitoring (stats.go, metrics.go)

Per-handler latency percentiles and error categories, plus process level
Prometheus collectors.

## Messaging (messaging.go, router.go)

NewMessageHandler exposes a Robot as a Watermill handler. NewRouter and Serve
bind that handler between a request topic and a response topic of a
transport.Transport.

# Sub-packages

  - config/: robot configuration with validation
  - envelope/: request and response codec
  - errors/: sentinel errors and error types
  - events/: event kinds and parsing
  - ids/: run ids and per-call sequences
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - ops/: operations and the operation recorder
  - rules/: handler rule compiler
  - transport/: publisher and subscriber pairs for the router
  - wavelet/: document snapshot and handler context

# Usage Example

	robot, err := robotflow.NewRobot(&robotflow.Config{
		Handlers: map[string]string{
			"blip_submitted": `w.title = "Seen by " + e.modifiedBy`,
		},
	}, logger, robotflow.RobotDependencies{})
	if err != nil {
		return err
	}

	out, err := robot.Process(input)
*/
package runtime
