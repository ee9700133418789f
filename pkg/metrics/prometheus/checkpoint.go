package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metrics"
)

func init() {
	metrics.RegisterCheckpointMetricsConstructor(func() checkpoint.Metrics {
		if m := NewCheckpointMetrics(); m != nil {
			return m
		}
		return nil
	})
}

// checkpointMetrics is the Prometheus implementation of checkpoint.Metrics.
type checkpointMetrics struct {
	attempts       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	transferBytes  *prometheus.CounterVec
	checkpointTxID prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// NewCheckpointMetrics creates a new Prometheus-backed secondary metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCheckpointMetrics() *checkpointMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &checkpointMetrics{
		attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_checkpoint_attempts_total",
				Help: "Total number of checkpoint attempts by final state and whether an image was handed back",
			},
			[]string{"state", "transferred"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittonn_checkpoint_duration_milliseconds",
				Help: "Duration of checkpoint attempts in milliseconds",
				Buckets: []float64{
					10,     // 10ms - no-op attempts
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					60000,  // 1m - large merges
					600000, // 10m
				},
			},
			[]string{"state"},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_checkpoint_transfer_bytes_total",
				Help: "Total bytes moved between secondary and primary",
			},
			[]string{"direction"},
		),
		checkpointTxID: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_checkpoint_txid",
				Help: "Transaction id covered by the secondary's latest image",
			},
		),
		lastSuccess: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_checkpoint_last_success_timestamp_seconds",
				Help: "Unix time of the last checkpoint that reached ADOPTED",
			},
		),
	}
}

func (m *checkpointMetrics) ObserveCheckpoint(final checkpoint.State, transferred bool, duration time.Duration) {
	if m == nil {
		return
	}
	t := "false"
	if transferred {
		t = "true"
	}
	m.attempts.WithLabelValues(final.String(), t).Inc()
	m.duration.WithLabelValues(final.String()).Observe(duration.Seconds() * 1000)
	if final == checkpoint.StateAdopted {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *checkpointMetrics) ObserveTransfer(direction string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *checkpointMetrics) SetCheckpointTxID(txid uint64) {
	if m == nil {
		return
	}
	m.checkpointTxID.Set(float64(txid))
}
