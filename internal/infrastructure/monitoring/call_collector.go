package monitoring

import (
	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallCollector exposes call lifecycle metrics to Prometheus.
type CallCollector struct {
	callsStartedTotal  *prometheus.CounterVec
	callsFinishedTotal *prometheus.CounterVec
	callDuration       prometheus.Histogram
	setupDuration      prometheus.Histogram
	candidatesBuffered prometheus.Counter
	reconnectAttempts  prometheus.Counter
	signalLatency      prometheus.Histogram
}

// NewCallCollector registers the collectors on the default registry.
func NewCallCollector() *CallCollector {
	return &CallCollector{
		callsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ringlink_calls_started_total",
			Help: "Total number of calls initiated or answered",
		}, []string{"media"}),

		callsFinishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ringlink_calls_finished_total",
			Help: "Total number of calls reaching a terminal status",
		}, []string{"status"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringlink_call_duration_seconds",
			Help:    "Duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		setupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringlink_call_setup_duration_seconds",
			Help:    "Time from invite to connected media",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),

		candidatesBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringlink_candidates_buffered_total",
			Help: "Candidates held back until the remote description arrived",
		}),

		reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ringlink_reconnect_attempts_total",
			Help: "Transport reconnection attempts",
		}),

		signalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringlink_signal_latency_seconds",
			Help:    "Latency of signaling round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (c *CallCollector) RecordCallStarted(media domain.MediaKind) {
	c.callsStartedTotal.WithLabelValues(string(media)).Inc()
}

func (c *CallCollector) RecordCallFinished(status domain.CallStatus, durationSeconds int64) {
	c.callsFinishedTotal.WithLabelValues(string(status)).Inc()
	if status == domain.CallStatusEnded {
		c.callDuration.Observe(float64(durationSeconds))
	}
}

func (c *CallCollector) RecordSetupDuration(seconds float64) {
	c.setupDuration.Observe(seconds)
}

func (c *CallCollector) RecordCandidateBuffered() {
	c.candidatesBuffered.Inc()
}

func (c *CallCollector) RecordReconnectAttempt() {
	c.reconnectAttempts.Inc()
}

func (c *CallCollector) RecordSignalLatency(seconds float64) {
	c.signalLatency.Observe(seconds)
}

// NoopCollector is used when metrics are disabled.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (NoopCollector) RecordCallStarted(domain.MediaKind)          {}
func (NoopCollector) RecordCallFinished(domain.CallStatus, int64) {}
func (NoopCollector) RecordSetupDuration(float64)                 {}
func (NoopCollector) RecordCandidateBuffered()                    {}
func (NoopCollector) RecordReconnectAttempt()                     {}
func (NoopCollector) RecordSignalLatency(float64)                 {}

var (
	_ ports.CallMetrics = (*CallCollector)(nil)
	_ ports.CallMetrics = NoopCollector{}
)
