package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittonn/pkg/metadata/history"
	"github.com/marmos91/dittonn/pkg/metrics"
)

func init() {
	metrics.RegisterHistoryMetricsConstructor(func() history.Metrics {
		if m := NewBadgerMetrics(); m != nil {
			return m
		}
		return nil
	})
}

// badgerMetrics is the Prometheus implementation for the BadgerDB
// checkpoint journal.
type badgerMetrics struct {
	records        *prometheus.CounterVec
	recordDuration prometheus.Histogram
	entries        prometheus.Gauge
}

// NewBadgerMetrics creates a new Prometheus-backed BadgerDB journal metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBadgerMetrics() *badgerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &badgerMetrics{
		records: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_journal_records_total",
				Help: "Total number of checkpoint attempts written to the journal by status",
			},
			[]string{"status"},
		),
		recordDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittonn_journal_record_duration_milliseconds",
				Help:    "Duration of journal writes in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100},
			},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_journal_entries",
				Help: "Number of checkpoint attempts currently kept in the journal",
			},
		),
	}
}

// ObserveRecord records one journal write.
func (m *badgerMetrics) ObserveRecord(duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.records.WithLabelValues(status).Inc()
	m.recordDuration.Observe(duration.Seconds() * 1000)
}

// SetEntries records the number of kept attempts.
func (m *badgerMetrics) SetEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}
