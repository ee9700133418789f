package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittonn/pkg/metadata/archive"
	"github.com/marmos91/dittonn/pkg/metrics"
)

func init() {
	metrics.RegisterArchiveMetricsConstructor(func() archive.Metrics {
		if m := NewArchiveMetrics(); m != nil {
			return m
		}
		return nil
	})
}

// archiveMetrics is the Prometheus implementation of archive.Metrics.
type archiveMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewArchiveMetrics creates a new Prometheus-backed archive metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewArchiveMetrics() *archiveMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &archiveMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_archive_operations_total",
				Help: "Total number of S3 archive operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittonn_archive_operation_duration_milliseconds",
				Help: "Duration of S3 archive operations in milliseconds",
				Buckets: []float64{
					10,     // 10ms - listing
					50,     // 50ms
					100,    // 100ms - small images
					500,    // 500ms
					1000,   // 1s
					5000,   // 5s - large images
					30000,  // 30s
					120000, // 2m - very large images
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_archive_bytes_transferred_total",
				Help: "Total image bytes transferred to and from the archive",
			},
			[]string{"direction"},
		),
	}
}

func (m *archiveMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func (m *archiveMetrics) RecordBytes(direction string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
