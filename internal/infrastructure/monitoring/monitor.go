package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the gateway's counters. All fields are manipulated through
// atomics; read them with atomic.Load*.
type Metrics struct {
	CompletionsTotal   uint64
	CompletionsSuccess uint64
	CompletionsFailed  uint64
	CompletionsInFlight int64

	FirstByteLatencySum   uint64 // nanoseconds
	FirstByteLatencyCount uint64
	CompletionLatencySum   uint64 // nanoseconds
	CompletionLatencyCount uint64

	TokensStreamedTotal uint64
	CommitsFailedTotal  uint64
	RateLimitedTotal    uint64

	TasksCompletedTotal uint64
	TasksFailedTotal    uint64

	StartTime time.Time
}

// Monitor collects completion pipeline metrics. It satisfies the
// orchestrator's metrics sink and serves /metrics in Prometheus text format.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor creates a monitor anchored at the current time.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

// CompletionStarted marks one completion entering the pipeline.
func (m *Monitor) CompletionStarted() {
	atomic.AddUint64(&m.metrics.CompletionsTotal, 1)
	atomic.AddInt64(&m.metrics.CompletionsInFlight, 1)
}

// CompletionFinished marks one completion leaving the pipeline.
func (m *Monitor) CompletionFinished(success bool, duration time.Duration) {
	atomic.AddInt64(&m.metrics.CompletionsInFlight, -1)
	if success {
		atomic.AddUint64(&m.metrics.CompletionsSuccess, 1)
	} else {
		atomic.AddUint64(&m.metrics.CompletionsFailed, 1)
	}
	atomic.AddUint64(&m.metrics.CompletionLatencySum, uint64(duration.Nanoseconds()))
	atomic.AddUint64(&m.metrics.CompletionLatencyCount, 1)
}

// FirstByte records time-to-first-upstream-byte for one completion.
func (m *Monitor) FirstByte(latency time.Duration) {
	atomic.AddUint64(&m.metrics.FirstByteLatencySum, uint64(latency.Nanoseconds()))
	atomic.AddUint64(&m.metrics.FirstByteLatencyCount, 1)
}

// TokensStreamed adds the estimated token count of one finished stream.
func (m *Monitor) TokensStreamed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.TokensStreamedTotal, uint64(n))
	}
}

// CommitFailed counts one best-effort commit that reported an error.
func (m *Monitor) CommitFailed() {
	atomic.AddUint64(&m.metrics.CommitsFailedTotal, 1)
}

// RateLimited counts one rejected request across both limiter tiers.
func (m *Monitor) RateLimited() {
	atomic.AddUint64(&m.metrics.RateLimitedTotal, 1)
}

// TaskFinished counts one drained task by outcome.
func (m *Monitor) TaskFinished(success bool) {
	if success {
		atomic.AddUint64(&m.metrics.TasksCompletedTotal, 1)
	} else {
		atomic.AddUint64(&m.metrics.TasksFailedTotal, 1)
	}
}

// Stats returns a point-in-time snapshot for diagnostics.
func (m *Monitor) Stats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	avgFirstByteMs := float64(0)
	if count := atomic.LoadUint64(&m.metrics.FirstByteLatencyCount); count > 0 {
		avgFirstByteMs = float64(atomic.LoadUint64(&m.metrics.FirstByteLatencySum)) / float64(count) / 1e6
	}
	avgCompletionMs := float64(0)
	if count := atomic.LoadUint64(&m.metrics.CompletionLatencyCount); count > 0 {
		avgCompletionMs = float64(atomic.LoadUint64(&m.metrics.CompletionLatencySum)) / float64(count) / 1e6
	}

	return map[string]interface{}{
		"completions_total":      atomic.LoadUint64(&m.metrics.CompletionsTotal),
		"completions_success":    atomic.LoadUint64(&m.metrics.CompletionsSuccess),
		"completions_failed":     atomic.LoadUint64(&m.metrics.CompletionsFailed),
		"completions_in_flight":  atomic.LoadInt64(&m.metrics.CompletionsInFlight),
		"avg_first_byte_ms":      avgFirstByteMs,
		"avg_completion_ms":      avgCompletionMs,
		"tokens_streamed_total":  atomic.LoadUint64(&m.metrics.TokensStreamedTotal),
		"commits_failed_total":   atomic.LoadUint64(&m.metrics.CommitsFailedTotal),
		"rate_limited_total":     atomic.LoadUint64(&m.metrics.RateLimitedTotal),
		"uptime_seconds":         time.Since(m.metrics.StartTime).Seconds(),
		"memory_alloc_mb":        float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":             runtime.NumGoroutine(),
	}
}
