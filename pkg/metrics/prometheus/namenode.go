package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
	"github.com/marmos91/dittonn/pkg/metrics"
)

func init() {
	metrics.RegisterNamenodeMetricsConstructor(func() namenode.Metrics {
		if m := NewNamenodeMetrics(); m != nil {
			return m
		}
		return nil
	})
	metrics.RegisterImageMetricsConstructor(func(role string) fsimage.Metrics {
		if m := NewImageMetrics(role); m != nil {
			return m
		}
		return nil
	})
}

// imageMetrics is the Prometheus implementation of fsimage.Metrics.
type imageMetrics struct {
	saves        prometheus.Counter
	saveDuration prometheus.Histogram
	imageBytes   prometheus.Gauge
	receives     *prometheus.CounterVec
}

// NewImageMetrics creates image store metrics carrying a constant role
// label, so the primary and the secondary can share a registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewImageMetrics(role string) *imageMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := prometheus.WrapRegistererWith(prometheus.Labels{"role": role}, metrics.GetRegistry())

	return &imageMetrics{
		saves: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonn_image_saves_total",
				Help: "Total number of images written to the image directories",
			},
		),
		saveDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittonn_image_save_duration_milliseconds",
				Help: "Duration of image saves across all image directories in milliseconds",
				Buckets: []float64{
					1,     // 1ms - empty namespaces
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s - large namespaces
					60000, // 1m
				},
			},
		),
		imageBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_image_bytes",
				Help: "Size of the most recently written image",
			},
		),
		receives: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_image_receives_total",
				Help: "Total number of images received from a peer by status",
			},
			[]string{"status"},
		),
	}
}

func (m *imageMetrics) ObserveSave(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.saves.Inc()
	m.saveDuration.Observe(duration.Seconds() * 1000)
	m.imageBytes.Set(float64(bytes))
}

func (m *imageMetrics) ObserveReceive(bytes int64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.receives.WithLabelValues(status).Inc()
	if err == nil {
		m.imageBytes.Set(float64(bytes))
	}
}

// namenodeMetrics is the Prometheus implementation of namenode.Metrics.
type namenodeMetrics struct {
	*imageMetrics

	appends        prometheus.Counter
	appendBytes    prometheus.Counter
	appendDuration prometheus.Histogram
	rolls          prometheus.Counter
	rolledRecords  prometheus.Histogram
	segmentBytes   prometheus.Gauge

	mutations      *prometheus.CounterVec
	adopts         prometheus.Counter
	checkpointTxID prometheus.Gauge
	safeMode       prometheus.Gauge

	directoryHealthy *prometheus.GaugeVec
	removals         *prometheus.CounterVec
}

// NewNamenodeMetrics creates a new Prometheus-backed namenode metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewNamenodeMetrics() *namenodeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &namenodeMetrics{
		imageMetrics: NewImageMetrics("primary"),
		appends: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonn_editlog_appends_total",
				Help: "Total number of records appended to the edit log",
			},
		),
		appendBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonn_editlog_append_bytes_total",
				Help: "Total bytes appended to the edit log",
			},
		),
		appendDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittonn_editlog_append_duration_milliseconds",
				Help: "Duration of a durable append across all edits directories in milliseconds",
				Buckets: []float64{
					0.1, // 100us - page cache
					0.5,
					1,   // 1ms - fast fsync
					5,   // 5ms
					10,  // 10ms - spinning disk
					50,  // 50ms
					100, // 100ms - congested storage
				},
			},
		),
		rolls: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonn_editlog_rolls_total",
				Help: "Total number of edit log rolls",
			},
		),
		rolledRecords: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittonn_editlog_rolled_records",
				Help:    "Number of transactions in each finalized segment",
				Buckets: prometheus.ExponentialBuckets(1, 10, 7),
			},
		),
		segmentBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_editlog_segment_bytes",
				Help: "Size of the in-progress edits segment",
			},
		),
		mutations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_namenode_mutations_total",
				Help: "Total number of namespace mutations by op and status",
			},
			[]string{"op", "status"},
		),
		adopts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittonn_namenode_checkpoints_adopted_total",
				Help: "Total number of checkpoint images adopted from the secondary",
			},
		),
		checkpointTxID: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_namenode_checkpoint_txid",
				Help: "Transaction id covered by the current image",
			},
		),
		safeMode: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittonn_namenode_safe_mode",
				Help: "1 while the primary refuses mutations",
			},
		),
		directoryHealthy: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittonn_storage_directory_healthy",
				Help: "1 while a storage directory is in service, 0 once removed",
			},
			[]string{"dir", "dir_role"},
		),
		removals: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittonn_storage_directory_removals_total",
				Help: "Total number of storage directories taken out of service",
			},
			[]string{"dir_role"},
		),
	}
}

func (m *namenodeMetrics) ObserveAppend(bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.appends.Inc()
	m.appendBytes.Add(float64(bytes))
	m.appendDuration.Observe(duration.Seconds() * 1000)
}

func (m *namenodeMetrics) ObserveRoll(records uint64) {
	if m == nil {
		return
	}
	m.rolls.Inc()
	m.rolledRecords.Observe(float64(records))
}

func (m *namenodeMetrics) SetSegmentSize(bytes int64) {
	if m == nil {
		return
	}
	m.segmentBytes.Set(float64(bytes))
}

func (m *namenodeMetrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.mutations.WithLabelValues(op, status).Inc()
}

func (m *namenodeMetrics) ObserveAdopt(txid uint64) {
	if m == nil {
		return
	}
	m.adopts.Inc()
	m.checkpointTxID.Set(float64(txid))
}

func (m *namenodeMetrics) SetSafeMode(on bool) {
	if m == nil {
		return
	}
	if on {
		m.safeMode.Set(1)
	} else {
		m.safeMode.Set(0)
	}
}

func (m *namenodeMetrics) DirectoryRemoved(d *storage.Directory, cause error) {
	if m == nil {
		return
	}
	m.directoryHealthy.WithLabelValues(d.Root(), d.Role().String()).Set(0)
	m.removals.WithLabelValues(d.Role().String()).Inc()
}

func (m *namenodeMetrics) DirectoryRestored(d *storage.Directory) {
	if m == nil {
		return
	}
	m.directoryHealthy.WithLabelValues(d.Root(), d.Role().String()).Set(1)
}
