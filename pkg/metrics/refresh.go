package metrics

import (
	"time"

	"github.com/marmos91/feedfs/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// refreshMetrics is the Prometheus implementation of scheduler.Metrics.
type refreshMetrics struct {
	refreshes     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	coalesced     *prometheus.CounterVec
	inFlight      prometheus.Gauge
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
}

// NewRefreshMetrics creates a Prometheus-backed scheduler.Metrics, or nil
// when metrics are disabled.
func NewRefreshMetrics() scheduler.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newRefreshMetrics(GetRegistry())
}

func newRefreshMetrics(reg prometheus.Registerer) *refreshMetrics {
	return &refreshMetrics{
		refreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "total",
				Help:      "Feed refresh attempts by feed and outcome",
			},
			[]string{"feed", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Duration of feed refreshes (fetch, parse and merge) in seconds",
				Buckets: []float64{
					0.05, // 50ms
					0.1,  // 100ms
					0.5,  // 500ms
					1,    // 1s
					5,    // 5s
					15,   // 15s
					30,   // 30s
					60,   // 1m
				},
			},
			[]string{"outcome"},
		),
		coalesced: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "coalesced_total",
				Help:      "Refresh requests that found a refresh of the same feed already running",
			},
			[]string{"feed"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "in_flight",
				Help:      "Current number of feed refreshes in progress",
			},
		),
		cycles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "cycles_total",
				Help:      "Completed refresh cycles",
			},
		),
		cycleDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of whole refresh cycles in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}
}

func (m *refreshMetrics) RecordRefresh(feedID, outcome string, d time.Duration) {
	m.refreshes.WithLabelValues(feedID, outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *refreshMetrics) RecordCoalesced(feedID string) {
	m.coalesced.WithLabelValues(feedID).Inc()
}

func (m *refreshMetrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

func (m *refreshMetrics) RecordCycle(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}
