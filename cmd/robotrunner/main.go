// robotrunner runs a robot defined on the command line against one request
// envelope. Handlers are given per event kind as percent-encoded rule
// sources; the envelope is read from stdin and the response written to
// stdout.
//
//	cat events.json | robotrunner --eventdef-blip_submitted='w.title+%3D+"title"'
//
// Settings can also come from a config file (--config) or ROBOTFLOW_*
// environment variables; flags win over both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/drblury/robotflow"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	eventdefPrefix = "eventdef-"
	envPrefix      = "ROBOTFLOW"
)

// settingFlags maps config keys onto the flags that set them.
var settingFlags = map[string]string{
	"name":            "name",
	"robot_address":   "robot-address",
	"consumer_key":    "consumer-key",
	"unknown_events":  "unknown-events",
	"output_format":   "output-format",
	"method_prefix":   "method-prefix",
	"proxy_for":       "proxy-for",
	"process_timeout": "process-timeout",
	"log_level":       "log-level",
	"log_json":        "log-json",
	"metrics_file":    "metrics-file",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flagSet := newFlagSet(stderr)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", rest[0])
		return exitUsage
	}

	conf, err := loadConfig(flagSet)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	conf.ApplyDefaults()
	logger := robotflow.NewTextLogger(stderr, conf.LogLevel, conf.LogJSON)

	var registry *prometheus.Registry
	deps := robotflow.RobotDependencies{}
	if conf.MetricsFile != "" {
		registry = prometheus.NewRegistry()
		deps.Metrics = robotflow.NewMetrics(registry)
	}

	robot, err := robotflow.NewRobot(conf, logger, deps)
	if err != nil {
		logger.Error("Invalid configuration", err, nil)
		return exitError
	}

	code := process(robot, stdin, stdout, logger)

	if registry != nil {
		if err := prometheus.WriteToTextfile(conf.MetricsFile, registry); err != nil {
			logger.Error("Writing metrics failed", err, robotflow.LogFields{"path": conf.MetricsFile})
		}
	}
	return code
}

func process(robot *robotflow.Robot, stdin io.Reader, stdout io.Writer, logger robotflow.ServiceLogger) int {
	input, err := io.ReadAll(stdin)
	if err != nil {
		logger.Error("Reading input failed", err, nil)
		return exitError
	}
	out, err := robot.ProcessContext(context.Background(), input)
	if err != nil {
		// Dispatch already logged the failure.
		return exitError
	}
	if _, err := stdout.Write(out); err != nil {
		logger.Error("Writing response failed", err, nil)
		return exitError
	}
	return exitOK
}

func newFlagSet(output io.Writer) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("robotrunner", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.SetNormalizeFunc(normalizeFlagName)

	flagSet.String("config", "", "path to a config file (yaml, json or toml)")
	flagSet.String("name", "", "robot name used in logs")
	flagSet.String("robot-address", "", "participant address of the robot")
	flagSet.String("consumer-key", "", "consumer key advertised in the capabilities document")
	flagSet.String("unknown-events", "", "policy for unknown event kinds: ignore or reject")
	flagSet.String("output-format", "", "response format: envelope or jsonrpc")
	flagSet.String("method-prefix", "", "prefix added to every operation method")
	flagSet.String("proxy-for", "", "proxy id stamped on every operation")
	flagSet.Duration("process-timeout", 0, "wall-clock budget for processing the envelope (0 disables)")
	flagSet.String("log-level", "", "log level: debug, info, warn or error")
	flagSet.Bool("log-json", false, "write logs to stderr as JSON")
	flagSet.String("metrics-file", "", "write Prometheus metrics to this file after processing")

	for _, kind := range robotflow.AllEventKinds() {
		flagSet.String(eventdefPrefix+kind.Key(), "", fmt.Sprintf("event definition for the %s event", kind))
	}
	return flagSet
}

// normalizeFlagName accepts --eventdef_<kind> as an alias of
// --eventdef-<kind>.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if rest, ok := strings.CutPrefix(name, "eventdef_"); ok {
		name = eventdefPrefix + rest
	}
	return pflag.NormalizedName(name)
}

// loadConfig layers defaults, the config file, ROBOTFLOW_* variables and
// flags, in increasing precedence.
func loadConfig(flagSet *pflag.FlagSet) (*robotflow.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for key, flagName := range settingFlags {
		if err := v.BindPFlag(key, flagSet.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	if path, _ := flagSet.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := robotflow.DefaultConfig()
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, kind := range robotflow.AllEventKinds() {
		raw, _ := flagSet.GetString(eventdefPrefix + kind.Key())
		if raw == "" {
			continue
		}
		source, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("--%s%s: %w", eventdefPrefix, kind.Key(), err)
		}
		if source == "" {
			continue
		}
		if conf.Handlers == nil {
			conf.Handlers = make(map[string]string)
		}
		conf.Handlers[kind.Key()] = source
	}
	return &conf, nil
}
