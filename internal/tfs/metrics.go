package tfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times calls to the server.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the call metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_tfs_calls_total",
				Help: "Calls to the team foundation server by call and outcome",
			},
			[]string{"call", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_tfs_call_duration_seconds",
				Help:    "Duration of calls to the team foundation server",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"call"},
		),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

func (m *Metrics) observe(call string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(call, outcome).Inc()
	m.duration.WithLabelValues(call).Observe(elapsed.Seconds())
}
