package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrRobotRequired    = sterrors.New("robotflow: robot is required")
	ErrHandlerRequired  = sterrors.New("robotflow: handler capability is required")
	ErrUnknownEventKind = sterrors.New("robotflow: unknown event kind")
	ErrRegistryFrozen   = sterrors.New("robotflow: registry is frozen once dispatch has started")
	ErrConfigRequired   = sterrors.New("robotflow: configuration is required")
	ErrLoggerRequired   = sterrors.New("robotflow: logger is required")
	ErrInvalidContext   = sterrors.New("robotflow: invalid handler context")

	// Sentinels matched by the typed errors below through errors.Is.
	ErrProtocolDecode   = sterrors.New("robotflow: protocol decode failed")
	ErrMalformedEvent   = sterrors.New("robotflow: malformed event")
	ErrHandlerExecution = sterrors.New("robotflow: handler execution failed")
	ErrSinkClosed       = sterrors.New("robotflow: operation sink is closed")
	ErrTimeout          = sterrors.New("robotflow: processing budget exceeded")
)

// ConfigValidationError wraps the joined validation errors of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "robotflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ProtocolDecodeError reports an input envelope that could not be decoded.
// Offset is the byte offset of the failure when known, -1 otherwise.
type ProtocolDecodeError struct {
	Offset  int64
	Snippet string
	Err     error
}

func (e *ProtocolDecodeError) Error() string {
	msg := "robotflow: cannot decode envelope"
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(" near %q", e.Snippet)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

func (e *ProtocolDecodeError) Is(target error) bool { return target == ErrProtocolDecode }

// MalformedEventError reports an event whose payload misses a required field
// or carries an unusable value. Only that event is skipped.
type MalformedEventError struct {
	EventIndex int
	Type       string
	Field      string
	Reason     string
}

func (e *MalformedEventError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("robotflow: malformed event %d (%s): field %q %s", e.EventIndex, e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("robotflow: malformed event %d (%s): %s", e.EventIndex, e.Type, e.Reason)
}

func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }

// HandlerExecutionError is recorded for one (event, handler) pair.
type HandlerExecutionError struct {
	EventIndex   int
	HandlerIndex int
	Handler      string
	Err          error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("robotflow: handler %q (#%d) failed on event %d: %v", e.Handler, e.HandlerIndex, e.EventIndex, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

func (e *HandlerExecutionError) Is(target error) bool { return target == ErrHandlerExecution }

// SinkClosedError is returned when an operation is submitted through a sink
// whose invocation has already returned.
type SinkClosedError struct {
	Method string
}

func (e *SinkClosedError) Error() string {
	if e.Method == "" {
		return ErrSinkClosed.Error()
	}
	return fmt.Sprintf("%s: rejected %s", ErrSinkClosed.Error(), e.Method)
}

func (e *SinkClosedError) Is(target error) bool { return target == ErrSinkClosed }

// TimeoutError aborts a single process call whose wall-clock budget expired.
type TimeoutError struct {
	Budget     time.Duration
	EventIndex int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("robotflow: processing budget of %v exceeded before event %d", e.Budget, e.EventIndex)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
