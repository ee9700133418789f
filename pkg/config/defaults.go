package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittonn/pkg/api"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyNamenodeDefaults(&cfg.Namenode)
	applySecondaryDefaults(&cfg.Secondary)
	applyArchiveDefaults(&cfg.Archive)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets the metrics port when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyNamenodeDefaults(cfg *NamenodeConfig) {
	if len(cfg.ImageDirs) == 0 {
		cfg.ImageDirs = []string{filepath.Join(getDataDir(), "name")}
	}
	applyAPIDefaults(&cfg.API)
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

func applySecondaryDefaults(cfg *SecondaryConfig) {
	if len(cfg.CheckpointDirs) == 0 {
		cfg.CheckpointDirs = []string{filepath.Join(getDataDir(), "namesecondary")}
	}
	if cfg.PrimaryAddress == "" {
		cfg.PrimaryAddress = "http://localhost:9870"
	}
	if cfg.Period == 0 {
		cfg.Period = time.Hour
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = 10 * time.Minute
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(getDataDir(), "history")
	}
	if cfg.History.Retain == 0 {
		cfg.History.Retain = 1000
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "fsimage/"
	}
}

// getDataDir returns the default root for storage directories.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share, or falls back to the
// current directory.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittonn")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "dittonn-data"
	}
	return filepath.Join(home, ".local", "share", "dittonn")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
