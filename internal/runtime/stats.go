package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/robotflow/internal/runtime/jsoncodec"
	"github.com/drblury/robotflow/internal/runtime/rules"
	"github.com/drblury/robotflow/internal/runtime/wavelet"
)

const latencySampleSize = 256

// HandlerStats accumulates invocation statistics for one registration across
// process calls.
type HandlerStats struct {
	mu            sync.Mutex
	current       HandlerStatsSnapshot
	latencyWindow *latencyWindow
}

// HandlerStatsSnapshot is a point-in-time copy of HandlerStats.
type HandlerStatsSnapshot struct {
	Invocations         uint64         `json:"invocations"`
	Failures            uint64         `json:"failures"`
	OperationsSubmitted uint64         `json:"operations_submitted"`
	TotalProcessingTime int64          `json:"total_processing_time_ns"`
	LastInvokedAt       time.Time      `json:"last_invoked_at"`
	Latency             LatencyMetrics `json:"latency"`
	Errors              ErrorBreakdown `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Rule       uint64 `json:"rule"`
	Panic      uint64 `json:"panic"`
	Timeout    uint64 `json:"timeout"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryRule       ErrorCategory = "rule"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryOther      ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newHandlerStats() *HandlerStats {
	return &HandlerStats{latencyWindow: newLatencyWindow(latencySampleSize)}
}

func (h *HandlerStats) record(duration time.Duration, submitted int, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &h.current
	s.Invocations++
	if err != nil {
		s.Failures++
	}
	s.OperationsSubmitted += uint64(submitted)
	s.TotalProcessingTime += int64(duration)
	s.LastInvokedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		snapshot.AverageNs = s.TotalProcessingTime / int64(s.Invocations)
		s.Latency = snapshot
	}

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.Errors.Record(classifier(err), err)
}

// Snapshot returns a copy safe to read while handlers keep running.
func (h *HandlerStats) Snapshot() HandlerStatsSnapshot {
	if h == nil {
		return HandlerStatsSnapshot{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(h.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryRule:
		e.Rule++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryTimeout:
		e.Timeout++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

var validationErrors = []error{
	wavelet.ErrBlipNotFound,
	wavelet.ErrInvalidTitle,
	wavelet.ErrInvalidRole,
	wavelet.ErrInvalidPosition,
	wavelet.ErrInvalidModify,
	wavelet.ErrInvalidProxyFor,
	rules.ErrNoBlip,
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var recovered middleware.RecoveredPanicError
	if errors.As(err, &recovered) {
		return ErrorCategoryPanic
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, rules.ErrRuleFailed) {
		return ErrorCategoryRule
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return ErrorCategoryValidation
		}
	}
	return ErrorCategoryOther
}
