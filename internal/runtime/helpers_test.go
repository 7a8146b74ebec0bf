package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/robotflow/internal/runtime/config"
	"github.com/drblury/robotflow/internal/runtime/envelope"
	"github.com/drblury/robotflow/internal/runtime/events"
	loggingpkg "github.com/drblury/robotflow/internal/runtime/logging"
	"github.com/drblury/robotflow/internal/runtime/ops"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

const (
	testWaveID    = "example.com!w+abc"
	testWaveletID = "example.com!conv+root"
)

const blipSubmitted = `{"type": "BLIP_SUBMITTED", "modifiedBy": "alice@example.com", "timestamp": 1000, "properties": {"blipId": "b+root"}}`

// requestEnvelope builds a request batch around the given raw events.
func requestEnvelope(rawEvents ...string) []byte {
	return []byte(fmt.Sprintf(`{
		"wavelet": {
			"waveId": %q,
			"waveletId": %q,
			"creator": "alice@example.com",
			"title": "Hello",
			"rootBlipId": "b+root",
			"participants": ["alice@example.com", "robot@appspot.com"],
			"version": 7
		},
		"blips": {
			"b+root": {"blipId": "b+root", "content": "\nHello\nbody text"}
		},
		"events": [%s]
	}`, testWaveID, testWaveletID, strings.Join(rawEvents, ",")))
}

func newTestRobot(t *testing.T, conf *configpkg.Config, deps RobotDependencies) *Robot {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	robot, err := NewRobot(conf, loggingpkg.NewNopLogger(), deps)
	require.NoError(t, err)
	return robot
}

func dispatch(t *testing.T, robot *Robot, raw []byte) *envelope.Response {
	t.Helper()
	resp, err := robot.Dispatch(context.Background(), raw)
	require.NoError(t, err)
	return resp
}

func setTitle(title string) Capability {
	return CapabilityFunc(func(_ context.Context, _ *events.Event, doc *wavelet.Context) error {
		return doc.SetTitle(title)
	})
}

func methods(list []ops.Operation) []string {
	out := make([]string, len(list))
	for i, op := range list {
		out[i] = op.Method
	}
	return out
}

// callLog is the ordered side channel handlers report to.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) record(name string) Capability {
	return CapabilityFunc(func(_ context.Context, evt *events.Event, _ *wavelet.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, fmt.Sprintf("%d:%s", evt.Index, name))
		return nil
	})
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type loggedEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
	err    error
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]loggedEntry
	fields  loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]loggedEntry{}}
}

func (r *recordingLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, loggedEntry{level: level, msg: msg, fields: merged, err: err})
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.add("debug", msg, nil, fields)
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.add("info", msg, nil, fields)
}

func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields) {
	r.add("warn", msg, nil, fields)
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, err, fields)
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.add("trace", msg, nil, fields)
}

func (r *recordingLogger) messages(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range *r.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}
