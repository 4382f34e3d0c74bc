package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler serving the metrics in Prometheus
// text exposition format. Hand-rolled to avoid pulling in the full
// prometheus/client_golang dependency. Mount it at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"elysia_completions_total", "Total completions started", "counter", atomic.LoadUint64(&m.metrics.CompletionsTotal)},
			{"elysia_completions_success_total", "Completions that finished without an upstream error", "counter", atomic.LoadUint64(&m.metrics.CompletionsSuccess)},
			{"elysia_completions_failed_total", "Completions that ended with an upstream error", "counter", atomic.LoadUint64(&m.metrics.CompletionsFailed)},
			{"elysia_completions_in_flight", "Completions currently streaming", "gauge", atomic.LoadInt64(&m.metrics.CompletionsInFlight)},

			{"elysia_tokens_streamed_total", "Estimated tokens streamed to clients", "counter", atomic.LoadUint64(&m.metrics.TokensStreamedTotal)},
			{"elysia_commits_failed_total", "Side-effect commits that reported an error", "counter", atomic.LoadUint64(&m.metrics.CommitsFailedTotal)},
			{"elysia_rate_limited_total", "Requests rejected by a rate-limit tier", "counter", atomic.LoadUint64(&m.metrics.RateLimitedTotal)},

			{"elysia_tasks_completed_total", "Inferred tasks drained successfully", "counter", atomic.LoadUint64(&m.metrics.TasksCompletedTotal)},
			{"elysia_tasks_failed_total", "Inferred tasks that failed", "counter", atomic.LoadUint64(&m.metrics.TasksFailedTotal)},

			{"elysia_uptime_seconds", "Process uptime in seconds", "gauge", uptime},
			{"elysia_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"elysia_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"elysia_gc_cycles_total", "Completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		firstByteCount := atomic.LoadUint64(&m.metrics.FirstByteLatencyCount)
		if firstByteCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.FirstByteLatencySum)) / float64(firstByteCount) / 1e6
			fmt.Fprintf(w, "# HELP elysia_first_byte_latency_avg_ms Average time to first upstream byte in milliseconds\n")
			fmt.Fprintf(w, "# TYPE elysia_first_byte_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "elysia_first_byte_latency_avg_ms %f\n\n", avgMs)
		}

		completionCount := atomic.LoadUint64(&m.metrics.CompletionLatencyCount)
		if completionCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.CompletionLatencySum)) / float64(completionCount) / 1e6
			fmt.Fprintf(w, "# HELP elysia_completion_latency_avg_ms Average end-to-end completion latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE elysia_completion_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "elysia_completion_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
