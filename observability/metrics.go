package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnchorMetrics exposes the Prometheus collectors recording anchoring
// activity: submissions against the ledger, reconciliation outcomes, and the
// raw JSON-RPC traffic underneath them.
type AnchorMetrics struct {
	Submissions *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	RateLimited prometheus.Counter
	rpcCalls    *prometheus.CounterVec
	rpcLatency  *prometheus.HistogramVec
}

var (
	anchorOnce sync.Once
	anchorReg  *AnchorMetrics
)

// Anchor returns the lazily-initialised anchoring metrics registry.
func Anchor() *AnchorMetrics {
	anchorOnce.Do(func() {
		anchorReg = &AnchorMetrics{
			Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hashnote",
				Subsystem: "anchor",
				Name:      "submissions_total",
				Help:      "Ledger submissions segmented by mode and outcome.",
			}, []string{"mode", "outcome"}),
			Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hashnote",
				Subsystem: "anchor",
				Name:      "status_transitions_total",
				Help:      "Message status transitions applied by reconciliation.",
			}, []string{"status"}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hashnote",
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the admission rate limiter.",
			}),
			rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hashnote",
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "JSON-RPC calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hashnote",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution of JSON-RPC calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			anchorReg.Submissions,
			anchorReg.Transitions,
			anchorReg.RateLimited,
			anchorReg.rpcCalls,
			anchorReg.rpcLatency,
		)
	})
	return anchorReg
}

// ObserveRPC records the outcome and latency of one JSON-RPC call.
func (m *AnchorMetrics) ObserveRPC(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcCalls.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}
