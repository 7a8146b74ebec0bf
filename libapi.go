package robotflow

import (
	runtimepkg "github.com/drblury/robotflow/internal/runtime"
	configpkg "github.com/drblury/robotflow/internal/runtime/config"
	"github.com/drblury/robotflow/internal/runtime/envelope"
	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	"github.com/drblury/robotflow/internal/runtime/events"
	idspkg "github.com/drblury/robotflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/robotflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/robotflow/internal/runtime/logging"
	"github.com/drblury/robotflow/internal/runtime/ops"
	"github.com/drblury/robotflow/internal/runtime/rules"
	transportpkg "github.com/drblury/robotflow/internal/runtime/transport"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

type (
	Config            = configpkg.Config
	Robot             = runtimepkg.Robot
	RobotDependencies = runtimepkg.RobotDependencies

	Registry            = runtimepkg.Registry
	Capability          = runtimepkg.Capability
	CapabilityFunc      = runtimepkg.CapabilityFunc
	HandlerRegistration = runtimepkg.HandlerRegistration
	HandlerInfo         = runtimepkg.HandlerInfo
	HandlerStats        = runtimepkg.HandlerStats
	Invocation          = runtimepkg.Invocation

	Event      = events.Event
	EventKind  = events.Kind
	Context    = wavelet.Context
	Wavelet    = wavelet.Wavelet
	Blip       = wavelet.Blip
	Operation  = ops.Operation
	Response   = envelope.Response
	ErrorEntry = envelope.ErrorEntry
	Program    = rules.Program

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	HandlerMiddleware      = runtimepkg.HandlerMiddleware

	// Invocation lifecycle hooks
	InvocationContext = runtimepkg.InvocationContext
	InvocationHooks   = runtimepkg.InvocationHooks

	// Dispatch metrics
	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	RouterConfig = runtimepkg.RouterConfig
	Transport    = transportpkg.Transport

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	ProtocolDecodeError   = errspkg.ProtocolDecodeError
	MalformedEventError   = errspkg.MalformedEventError
	HandlerExecutionError = errspkg.HandlerExecutionError
	SinkClosedError       = errspkg.SinkClosedError
	TimeoutError          = errspkg.TimeoutError
)

var (
	NewRobot       = runtimepkg.NewRobot
	NewRegistry    = runtimepkg.NewRegistry
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig
	CompileRule    = rules.Compile

	DefaultMiddlewares  = runtimepkg.DefaultMiddlewares
	TracerMiddleware    = runtimepkg.TracerMiddleware
	MetricsMiddleware   = runtimepkg.MetricsMiddleware
	RecovererMiddleware = runtimepkg.RecovererMiddleware

	InvocationHooksMiddleware = runtimepkg.InvocationHooksMiddleware
	LoggingHooks              = runtimepkg.LoggingHooks
	MetricsHooks              = runtimepkg.MetricsHooks
	AlertingHooks             = runtimepkg.AlertingHooks
	InvocationFromContext     = runtimepkg.InvocationFromContext

	NewMetrics = runtimepkg.NewMetrics

	NewMessageHandler = runtimepkg.NewMessageHandler
	NewRouter         = runtimepkg.NewRouter
	Serve             = runtimepkg.Serve
	ChannelTransport  = transportpkg.Channel

	ParseEventKind = events.ParseKind
	AllEventKinds  = events.AllKinds
	DecodeResponse = envelope.DecodeResponse

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrRobotRequired    = errspkg.ErrRobotRequired
	ErrHandlerRequired  = errspkg.ErrHandlerRequired
	ErrUnknownEventKind = errspkg.ErrUnknownEventKind
	ErrRegistryFrozen   = errspkg.ErrRegistryFrozen
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrInvalidContext   = errspkg.ErrInvalidContext
	ErrProtocolDecode   = errspkg.ErrProtocolDecode
	ErrMalformedEvent   = errspkg.ErrMalformedEvent
	ErrHandlerExecution = errspkg.ErrHandlerExecution
	ErrSinkClosed       = errspkg.ErrSinkClosed
	ErrTimeout          = errspkg.ErrTimeout

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewTextLogger             = loggingpkg.NewTextLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	NewRunID = idspkg.NewRunID
)

// Event kinds of the robot protocol.
const (
	WaveletBlipCreated         = events.WaveletBlipCreated
	WaveletBlipRemoved         = events.WaveletBlipRemoved
	WaveletParticipantsChanged = events.WaveletParticipantsChanged
	WaveletSelfAdded           = events.WaveletSelfAdded
	WaveletSelfRemoved         = events.WaveletSelfRemoved
	WaveletTitleChanged        = events.WaveletTitleChanged
	WaveletTagsChanged         = events.WaveletTagsChanged
	BlipContributorsChanged    = events.BlipContributorsChanged
	BlipSubmitted              = events.BlipSubmitted
	DocumentChanged            = events.DocumentChanged
	FormButtonClicked          = events.FormButtonClicked
	GadgetStateChanged         = events.GadgetStateChanged
	AnnotatedTextChanged       = events.AnnotatedTextChanged
	OperationError             = events.OperationError
	WaveletCreated             = events.WaveletCreated
	WaveletFetched             = events.WaveletFetched
)

// Output formats and unknown event policies for Config.
const (
	OutputEnvelope      = configpkg.OutputEnvelope
	OutputJSONRPC       = configpkg.OutputJSONRPC
	UnknownEventsIgnore = configpkg.UnknownEventsIgnore
	UnknownEventsReject = configpkg.UnknownEventsReject
	ProtocolVersion     = ops.ProtocolVersion
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryRule       = runtimepkg.ErrorCategoryRule
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryTimeout    = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)
