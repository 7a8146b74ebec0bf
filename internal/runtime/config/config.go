package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/drblury/robotflow/internal/runtime/events"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

// Unknown event policies.
const (
	UnknownEventsIgnore = "ignore"
	UnknownEventsReject = "reject"
)

// Output formats.
const (
	OutputEnvelope = "envelope"
	OutputJSONRPC  = "jsonrpc"
)

const redacted = "***REDACTED***"

// Config groups the settings of one robot. It is immutable once the robot
// starts processing.
type Config struct {
	// Name identifies the robot in logs and metrics.
	Name string `mapstructure:"name"`
	// RobotAddress is the participant address of the robot, used to derive
	// proxying participants such as robot+bob@example.com.
	RobotAddress string `mapstructure:"robot_address"`
	// ConsumerKey is advertised in the capabilities document.
	ConsumerKey string `mapstructure:"consumer_key"`

	// Handlers maps a canonical event key (blip_submitted) to rule source.
	Handlers map[string]string `mapstructure:"handlers"`
	// HandlerContexts and HandlerFilters are advertised per event key.
	HandlerContexts map[string]string `mapstructure:"handler_contexts"`
	HandlerFilters  map[string]string `mapstructure:"handler_filters"`

	// UnknownEvents is "ignore" (log and skip) or "reject" (skip and report).
	UnknownEvents string `mapstructure:"unknown_events"`
	// OutputFormat is "envelope" or "jsonrpc".
	OutputFormat string `mapstructure:"output_format"`
	// MethodPrefix namespaces every operation method.
	MethodPrefix string `mapstructure:"method_prefix"`
	// ProxyFor stamps proxyingFor on every operation when set.
	ProxyFor string `mapstructure:"proxy_for"`
	// ProcessTimeout bounds one process call. Zero disables the budget.
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	// MetricsFile receives the Prometheus text exposition after a run.
	MetricsFile string `mapstructure:"metrics_file"`
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	return Config{
		Name:          "robotflow",
		UnknownEvents: UnknownEventsIgnore,
		OutputFormat:  OutputEnvelope,
		LogLevel:      "info",
	}
}

// ApplyDefaults normalizes the enumerated fields and fills empty ones from
// Default.
func (c *Config) ApplyDefaults() {
	def := Default()
	c.UnknownEvents = strings.ToLower(strings.TrimSpace(c.UnknownEvents))
	c.OutputFormat = strings.ToLower(strings.TrimSpace(c.OutputFormat))
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.UnknownEvents == "" {
		c.UnknownEvents = def.UnknownEvents
	}
	if c.OutputFormat == "" {
		c.OutputFormat = def.OutputFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// RejectUnknownEvents reports whether unknown kinds are recorded as errors.
func (c *Config) RejectUnknownEvents() bool {
	return strings.EqualFold(c.UnknownEvents, UnknownEventsReject)
}

// HandlerKinds returns the configured handler kinds in canonical key order.
// Keys that spell the same kind differently yield that kind once.
func (c *Config) HandlerKinds() []events.Kind {
	seen := make(map[events.Kind]struct{}, len(c.Handlers))
	kinds := make([]events.Kind, 0, len(c.Handlers))
	for _, key := range sortedKeys(c.Handlers) {
		kind, ok := events.ParseKind(key)
		if !ok {
			continue
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Key() < kinds[j].Key() })
	return kinds
}

// HandlerSource returns the rule source configured for kind.
func (c *Config) HandlerSource(kind events.Kind) (string, bool) {
	return lookupKind(c.Handlers, kind)
}

// HandlerContext returns the advertised context for kind, or "".
func (c *Config) HandlerContext(kind events.Kind) string {
	v, _ := lookupKind(c.HandlerContexts, kind)
	return v
}

// HandlerFilter returns the advertised filter for kind, or "".
func (c *Config) HandlerFilter(kind events.Kind) string {
	v, _ := lookupKind(c.HandlerFilters, kind)
	return v
}

// lookupKind prefers the canonical lower-case key, then the first matching
// spelling in sorted order.
func lookupKind(values map[string]string, kind events.Kind) (string, bool) {
	if value, ok := values[kind.Key()]; ok {
		return value, true
	}
	for _, key := range sortedKeys(values) {
		if k, ok := events.ParseKind(key); ok && k == kind {
			return values[key], true
		}
	}
	return "", false
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (c Config) String() string {
	copy := c
	if copy.ConsumerKey != "" {
		copy.ConsumerKey = redacted
	}
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateHandlers()...)
	errs = append(errs, c.validateOutput()...)
	errs = append(errs, c.validateProcessing()...)

	return errors.Join(errs...)
}

func (c *Config) validateHandlers() []error {
	var errs []error
	for _, group := range []struct {
		name   string
		values map[string]string
	}{
		{"handlers", c.Handlers},
		{"handler_contexts", c.HandlerContexts},
		{"handler_filters", c.HandlerFilters},
	} {
		claimed := make(map[events.Kind]string, len(group.values))
		for _, key := range sortedKeys(group.values) {
			kind, ok := events.ParseKind(key)
			if !ok {
				errs = append(errs, fmt.Errorf("%s: unknown event kind %q", group.name, key))
				continue
			}
			if prev, dup := claimed[kind]; dup {
				errs = append(errs, fmt.Errorf("%s: keys %q and %q both name %s", group.name, prev, key, kind.Key()))
				continue
			}
			claimed[kind] = key
		}
	}
	return errs
}

func (c *Config) validateOutput() []error {
	var errs []error
	switch strings.ToLower(c.OutputFormat) {
	case "", OutputEnvelope, OutputJSONRPC:
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported value %q", c.OutputFormat))
	}
	if strings.ContainsAny(c.MethodPrefix, " \t\r\n") {
		errs = append(errs, fmt.Errorf("method_prefix: must not contain whitespace, got %q", c.MethodPrefix))
	}
	return errs
}

func (c *Config) validateProcessing() []error {
	var errs []error
	switch strings.ToLower(c.UnknownEvents) {
	case "", UnknownEventsIgnore, UnknownEventsReject:
	default:
		errs = append(errs, fmt.Errorf("unknown_events: unsupported policy %q", c.UnknownEvents))
	}
	if c.ProcessTimeout < 0 {
		errs = append(errs, errors.New("process_timeout: cannot be negative"))
	}
	if err := wavelet.ValidateProxyFor(c.ProxyFor); err != nil {
		errs = append(errs, fmt.Errorf("proxy_for: %w", err))
	}
	if c.RobotAddress != "" && !strings.Contains(c.RobotAddress, "@") {
		errs = append(errs, fmt.Errorf("robot_address: %q is not a participant address", c.RobotAddress))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
