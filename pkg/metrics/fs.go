package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FSMetrics provides observability for filesystem adapter operations.
//
// Optional: adapters given a nil FSMetrics use NewNoopFSMetrics.
//
//	adapter := fuse.New(cfg, driver, metrics.NewFSMetrics())
type FSMetrics interface {
	// RecordOperation records a completed operation ("lookup", "read", ...)
	// and its errno name, empty on success.
	RecordOperation(op string, duration time.Duration, errno string)

	// RecordBytesRead records bytes returned to a reader.
	RecordBytesRead(bytes int)

	// SetMounted flips the mounted gauge for an adapter.
	SetMounted(protocol string, mounted bool)
}

// NewFSMetrics creates a Prometheus-backed FSMetrics. Returns a no-op
// implementation when metrics are disabled.
func NewFSMetrics() FSMetrics {
	if !IsEnabled() {
		return NewNoopFSMetrics()
	}
	return newFSMetrics(GetRegistry())
}

type fsMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytesRead  prometheus.Counter
	mounted    *prometheus.GaugeVec
}

func newFSMetrics(reg prometheus.Registerer) *fsMetrics {
	return &fsMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "operations_total",
				Help:      "Filesystem operations by name, status and errno",
			},
			[]string{"operation", "status", "errno"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "operation_duration_milliseconds",
				Help:      "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		),
		bytesRead: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "read_bytes_total",
				Help:      "Total article bytes returned to readers",
			},
		),
		mounted: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "mounted",
				Help:      "1 while the adapter's filesystem is mounted",
			},
			[]string{"protocol"},
		),
	}
}

func (m *fsMetrics) RecordOperation(op string, duration time.Duration, errno string) {
	status := "success"
	if errno != "" {
		status = "error"
	}
	m.operations.WithLabelValues(op, status, errno).Inc()
	m.duration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *fsMetrics) RecordBytesRead(bytes int) {
	m.bytesRead.Add(float64(bytes))
}

func (m *fsMetrics) SetMounted(protocol string, mounted bool) {
	v := 0.0
	if mounted {
		v = 1
	}
	m.mounted.WithLabelValues(protocol).Set(v)
}

type noopFSMetrics struct{}

// NewNoopFSMetrics returns an FSMetrics that discards everything.
func NewNoopFSMetrics() FSMetrics { return noopFSMetrics{} }

func (noopFSMetrics) RecordOperation(op string, duration time.Duration, errno string) {}
func (noopFSMetrics) RecordBytesRead(bytes int)                                       {}
func (noopFSMetrics) SetMounted(protocol string, mounted bool)                        {}
