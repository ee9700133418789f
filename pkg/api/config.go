package api

import (
	"time"

	"github.com/marmos91/dittonn/internal/bytesize"
)

// APIConfig configures the primary's HTTP server.
//
// Secondaries reach the checkpoint endpoints through it, so unlike a pure
// management API it is always started with the primary.
type APIConfig struct {
	// BindAddress is the interface to listen on. Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port.
	// Default: 9870
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including an uploaded image.
	// Default: 10m
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response, including a downloaded image.
	// Default: 10m
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxImageSize rejects checkpoint uploads declaring more bytes.
	// Supports human-readable formats: "512Mi", "4GB". Zero disables the limit.
	MaxImageSize bytesize.ByteSize `mapstructure:"max_image_size" yaml:"max_image_size,omitempty"`

	// ShutdownTimeout bounds the graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) ApplyDefaults() {
	c.applyDefaults()
}

func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9870
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
