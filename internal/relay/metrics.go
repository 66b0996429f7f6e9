package relay

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayMetricsOnce sync.Once

	relayRequestsTotal    *prometheus.CounterVec
	relayUpstreamDuration *prometheus.HistogramVec
)

func initRelayMetrics() {
	relayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing_relay",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay passes by query variant and outcome.",
		},
		[]string{"query", "outcome"},
	)

	relayUpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billing_relay",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of the single Azure Resource Manager call made per relay pass.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"query"},
	)

	prometheus.MustRegister(relayRequestsTotal, relayUpstreamDuration)
}

func recordOutcome(query string, outcome Outcome) {
	relayMetricsOnce.Do(initRelayMetrics)
	relayRequestsTotal.WithLabelValues(query, string(outcome)).Inc()
}

func recordUpstreamDuration(query string, elapsed time.Duration) {
	relayMetricsOnce.Do(initRelayMetrics)
	relayUpstreamDuration.WithLabelValues(query).Observe(elapsed.Seconds())
}
