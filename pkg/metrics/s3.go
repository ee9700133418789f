package metrics

import (
	"github.com/marmos91/dittonn/pkg/metadata/archive"
	"github.com/marmos91/dittonn/pkg/metadata/history"
)

// NewArchiveMetrics creates a Prometheus-backed archive.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the archiver,
// which results in zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	arch, err := archive.NewFromConfig(ctx, archive.Config{
//		Bucket:  "images",
//		Metrics: metrics.NewArchiveMetrics(),
//	})
func NewArchiveMetrics() archive.Metrics {
	if !IsEnabled() || newPrometheusArchiveMetrics == nil {
		return nil
	}
	return newPrometheusArchiveMetrics()
}

// NewHistoryMetrics creates a Prometheus-backed history.Metrics instance
// for the BadgerDB checkpoint journal. Returns nil if metrics are not
// enabled.
func NewHistoryMetrics() history.Metrics {
	if !IsEnabled() || newPrometheusHistoryMetrics == nil {
		return nil
	}
	return newPrometheusHistoryMetrics()
}

var (
	newPrometheusArchiveMetrics func() archive.Metrics
	newPrometheusHistoryMetrics func() history.Metrics
)

// RegisterArchiveMetricsConstructor registers the Prometheus archive metrics constructor.
// Called by pkg/metrics/prometheus/s3.go during package initialization.
func RegisterArchiveMetricsConstructor(constructor func() archive.Metrics) {
	newPrometheusArchiveMetrics = constructor
}

// RegisterHistoryMetricsConstructor registers the Prometheus journal metrics constructor.
// Called by pkg/metrics/prometheus/badger.go during package initialization.
func RegisterHistoryMetricsConstructor(constructor func() history.Metrics) {
	newPrometheusHistoryMetrics = constructor
}
