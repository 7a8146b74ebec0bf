package runtime

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/robotflow/internal/runtime/ops"
)

// Event outcomes.
const (
	EventDispatched = "dispatched"
	EventIgnored    = "ignored"
	EventRejected   = "rejected"
	EventMalformed  = "malformed"
)

// Invocation and process outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics tracks dispatch statistics. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.RWMutex

	totals MetricsSnapshot

	eventsTotal         *prometheus.CounterVec
	invocationsTotal    *prometheus.CounterVec
	operationsTotal     *prometheus.CounterVec
	decodeFailuresTotal prometheus.Counter
	processSeconds      *prometheus.HistogramVec
	handlerSeconds      *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// MetricsSnapshot provides a point-in-time view of the counters.
type MetricsSnapshot struct {
	Processed      uint64            `json:"processed"`
	Failed         uint64            `json:"failed"`
	DecodeFailures uint64            `json:"decode_failures"`
	Events         map[string]uint64 `json:"events"`
	Invocations    map[string]uint64 `json:"invocations"`
	Operations     map[string]uint64 `json:"operations"`
	CollectedAt    time.Time         `json:"collected_at"`
}

// newDispatchCounterVec creates a counter vec in the robotflow/dispatch namespace.
func newDispatchCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "robotflow",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newDispatchHistogramVec creates a histogram vec in the robotflow/dispatch namespace.
func newDispatchHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "robotflow",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates the dispatch collectors. A nil registerer means the
// Prometheus default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		totals:           newMetricsSnapshot(),
		registerer:       registerer,
		eventsTotal:      newDispatchCounterVec("events_total", "Events read from request envelopes by kind and outcome", []string{"kind", "outcome"}),
		invocationsTotal: newDispatchCounterVec("handler_invocations_total", "Handler invocations by kind, handler and outcome", []string{"kind", "handler", "outcome"}),
		operationsTotal:  newDispatchCounterVec("operations_total", "Operations emitted in responses by method", []string{"method"}),
		decodeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "robotflow",
			Subsystem: "dispatch",
			Name:      "decode_failures_total",
			Help:      "Request envelopes that could not be decoded",
		}),
		processSeconds: newDispatchHistogramVec("process_duration_seconds", "Wall-clock time of one process call", prometheus.DefBuckets, []string{"outcome"}),
		handlerSeconds: newDispatchHistogramVec("handler_duration_seconds", "Wall-clock time of one handler invocation", []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1}, []string{"kind"}),
	}
}

func newMetricsSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Events:      make(map[string]uint64),
		Invocations: make(map[string]uint64),
		Operations:  make(map[string]uint64),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.invocationsTotal,
		m.operationsTotal,
		m.decodeFailuresTotal,
		m.processSeconds,
		m.handlerSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordEvent counts one event with its outcome.
func (m *Metrics) RecordEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals.Events[outcome]++
	m.mu.Unlock()

	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordInvocation counts one handler invocation.
func (m *Metrics) RecordInvocation(kind, handler string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	m.mu.Lock()
	m.totals.Invocations[outcome]++
	m.mu.Unlock()

	m.invocationsTotal.WithLabelValues(kind, handler, outcome).Inc()
	m.handlerSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordOperations counts the operations of one response by method.
func (m *Metrics) RecordOperations(operations []ops.Operation) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for _, op := range operations {
		m.totals.Operations[op.Method]++
	}
	m.mu.Unlock()

	for _, op := range operations {
		m.operationsTotal.WithLabelValues(op.Method).Inc()
	}
}

func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals.DecodeFailures++
	m.mu.Unlock()

	m.decodeFailuresTotal.Inc()
}

// RecordProcess observes the duration of a finished process call.
func (m *Metrics) RecordProcess(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	m.mu.Lock()
	if err != nil {
		outcome = OutcomeFailed
		m.totals.Failed++
	} else {
		m.totals.Processed++
	}
	m.mu.Unlock()

	m.processSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Snapshot returns a copy of the internal counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return newMetricsSnapshot()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.totals
	snapshot.Events = maps.Clone(m.totals.Events)
	snapshot.Invocations = maps.Clone(m.totals.Invocations)
	snapshot.Operations = maps.Clone(m.totals.Operations)
	snapshot.CollectedAt = time.Now()
	return snapshot
}

// Reset clears the internal counters. Prometheus collectors are cumulative
// and are left untouched.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.totals = newMetricsSnapshot()
	m.mu.Unlock()
}
