package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	// DataDir is the root directory for volume files.
	DataDir string `yaml:"data_dir"`

	// Server configures the network listeners.
	Server ServerConfig `yaml:"server"`

	// Volumes configures the storage volume ring.
	Volumes VolumesConfig `yaml:"volumes"`

	// Ingest configures the write path.
	Ingest IngestConfig `yaml:"ingest"`

	// Telemetry configures latency tracking.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the network listeners.
type ServerConfig struct {
	// TCPListen is the ingestion listener address (e.g., "0.0.0.0:8282").
	TCPListen string `yaml:"tcp_listen"`

	// HTTPListen is the query/stats listener address (e.g., "0.0.0.0:8181").
	HTTPListen string `yaml:"http_listen"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// VolumesConfig configures the storage volume ring.
type VolumesConfig struct {
	// Count is the number of volumes in the ring. Fixed at creation.
	Count int `yaml:"count"`

	// Capacity is the byte capacity of each volume.
	Capacity int64 `yaml:"capacity"`

	// DirectIO opens volume files with O_DIRECT and writes aligned
	// blocks. Requires Capacity to be block-aligned.
	DirectIO bool `yaml:"direct_io"`
}

// IngestConfig configures the write path.
type IngestConfig struct {
	// FlushQueueSize is the capacity of the asynchronous flush queue
	// between the write cache and the volume ring. A full queue applies
	// backpressure to ingestion.
	FlushQueueSize int `yaml:"flush_queue_size"`

	// MaxFrameSize is the maximum accepted size of a single wire
	// frame, in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// TelemetryConfig configures latency tracking.
type TelemetryConfig struct {
	// PercentileAccuracy is the DDSketch relative accuracy
	// (0.01 = 1% error).
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON log output instead of text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Server: ServerConfig{
			TCPListen:       "0.0.0.0:8282",
			HTTPListen:      "0.0.0.0:8181",
			ShutdownTimeout: 10 * time.Second,
		},
		Volumes: VolumesConfig{
			Count:    2,
			Capacity: 4 * 1024 * 1024, // 4MB
		},
		Ingest: IngestConfig{
			FlushQueueSize: 65536,
			MaxFrameSize:   4096,
		},
		Telemetry: TelemetryConfig{
			PercentileAccuracy: 0.01,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for
// unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Volumes.Count < 2 {
		return fmt.Errorf("volumes.count must be at least 2, got %d", c.Volumes.Count)
	}
	if c.Volumes.Capacity < 4096 {
		return fmt.Errorf("volumes.capacity must be at least 4096 bytes, got %d", c.Volumes.Capacity)
	}
	if c.Volumes.DirectIO && c.Volumes.Capacity%4096 != 0 {
		return fmt.Errorf("volumes.capacity must be 4096-aligned with direct_io, got %d", c.Volumes.Capacity)
	}
	if c.Ingest.FlushQueueSize <= 0 {
		return fmt.Errorf("ingest.flush_queue_size must be positive, got %d", c.Ingest.FlushQueueSize)
	}
	if c.Ingest.MaxFrameSize < 64 {
		return fmt.Errorf("ingest.max_frame_size must be at least 64, got %d", c.Ingest.MaxFrameSize)
	}
	if c.Telemetry.PercentileAccuracy <= 0 || c.Telemetry.PercentileAccuracy >= 1 {
		return fmt.Errorf("telemetry.percentile_accuracy must be in (0, 1), got %v", c.Telemetry.PercentileAccuracy)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// EnsureDirectories creates the data directory tree.
func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(c.VolumeDir(), 0755)
}

// VolumeDir returns the directory holding volume files.
func (c *Config) VolumeDir() string {
	return filepath.Join(c.DataDir, "volumes")
}
