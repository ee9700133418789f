package telemetry

import (
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures span export for one process.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Role is recorded as a resource attribute so primary and secondary
	// spans can be told apart when they share a service name.
	Role string

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of root spans kept, in [0, 1]. Child spans
	// follow their parent's decision.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "dittonn",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry endpoint is required when tracing is enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate %v is outside [0, 1]", c.SampleRate)
	}
	return nil
}

func (c Config) sampler() sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case c.SampleRate >= 1:
		root = sdktrace.AlwaysSample()
	case c.SampleRate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(c.SampleRate)
	}
	return sdktrace.ParentBased(root)
}
