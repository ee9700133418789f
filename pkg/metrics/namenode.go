package metrics

import (
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

// NewNamenodeMetrics creates a Prometheus-backed namenode.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to namenode.Config,
// which results in zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	nn, err := namenode.Open(ctx, namenode.Config{
//		ImageDirs: dirs,
//		Metrics:   metrics.NewNamenodeMetrics(),
//	})
func NewNamenodeMetrics() namenode.Metrics {
	if !IsEnabled() || newPrometheusNamenodeMetrics == nil {
		return nil
	}
	return newPrometheusNamenodeMetrics()
}

// NewCheckpointMetrics creates a Prometheus-backed checkpoint.Metrics
// instance for the secondary. Returns nil if metrics are not enabled.
func NewCheckpointMetrics() checkpoint.Metrics {
	if !IsEnabled() || newPrometheusCheckpointMetrics == nil {
		return nil
	}
	return newPrometheusCheckpointMetrics()
}

// NewImageMetrics creates image store metrics labelled with role
// ("primary" or "secondary"). The namenode metrics already include the
// primary's, so this is used by the secondary. Returns nil if metrics are
// not enabled.
func NewImageMetrics(role string) fsimage.Metrics {
	if !IsEnabled() || newPrometheusImageMetrics == nil {
		return nil
	}
	return newPrometheusImageMetrics(role)
}

// These are implemented in pkg/metrics/prometheus.
// This indirection avoids import cycles while keeping the API clean.
var (
	newPrometheusNamenodeMetrics   func() namenode.Metrics
	newPrometheusCheckpointMetrics func() checkpoint.Metrics
	newPrometheusImageMetrics      func(role string) fsimage.Metrics
)

// RegisterNamenodeMetricsConstructor registers the Prometheus namenode metrics constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterNamenodeMetricsConstructor(constructor func() namenode.Metrics) {
	newPrometheusNamenodeMetrics = constructor
}

// RegisterCheckpointMetricsConstructor registers the Prometheus checkpoint metrics constructor.
func RegisterCheckpointMetricsConstructor(constructor func() checkpoint.Metrics) {
	newPrometheusCheckpointMetrics = constructor
}

// RegisterImageMetricsConstructor registers the Prometheus image metrics constructor.
func RegisterImageMetricsConstructor(constructor func(role string) fsimage.Metrics) {
	newPrometheusImageMetrics = constructor
}
