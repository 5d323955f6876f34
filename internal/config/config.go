// Package config loads and validates the OmniDMA adamap engine's YAML
// configuration: per-flow bitmap sizing, the shared DMA scheduler's
// modeled bandwidth/latency, timeout defaults, and logging/diagnostics
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the full configuration for one omnidma-receiverd or
// omnidma-senderd process.
type EngineConfig struct {
	Flow         FlowConfig         `yaml:"flow"`
	DMA          DMAConfig          `yaml:"dma"`
	Network      NetworkConfig      `yaml:"network"`
	Logging      LoggingConfig      `yaml:"logging"`
	Diagnostics  DiagnosticsConfig  `yaml:"diagnostics"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// NetworkConfig configures the UDP endpoints used to exchange packets
// and NACKs between one sender and one receiver daemon.
type NetworkConfig struct {
	ListenAddr string `yaml:"listen_addr"` // default: ":9000"
	PeerAddr   string `yaml:"peer_addr"`   // required for omnidma-senderd; the receiver's listen_addr
}

// FlowConfig configures the per-flow Adamap/Store defaults; a flow may
// override any of these at creation time.
type FlowConfig struct {
	BitmapSize         int           `yaml:"bitmap_size"`           // default: 32
	LookupTableLruSize int           `yaml:"lookup_table_lru_size"` // default: 1
	FirstN             int           `yaml:"first_n"`               // default: 2, NIC-cache depth
	RttScaleFactor     float64       `yaml:"rtt_scale_factor"`      // default: 1.5
	ListTimeout        time.Duration `yaml:"list_timeout"`          // default: 200ms
	InitialTableTimeout time.Duration `yaml:"initial_table_timeout"` // default: 200ms, before any RTT sample
	Strict             bool          `yaml:"strict"`                // panic on invariant violation; dev builds
}

// DMAConfig configures the shared metadata DMA scheduler.
type DMAConfig struct {
	BandwidthBytesPerSec float64       `yaml:"bandwidth_bytes_per_sec"` // 0 disables bandwidth modeling
	FixedLatency         time.Duration `yaml:"fixed_latency"`          // default: 100ns
}

// LoggingConfig configures the slog-based logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error, default: info
	Format string `yaml:"format"` // json|text, default: json
}

// DiagnosticsConfig configures the periodic cron-driven stats reporter.
type DiagnosticsConfig struct {
	Enabled  bool   `yaml:"enabled"`  // default: false
	Schedule string `yaml:"schedule"` // cron expression, default: "@every 30s"
}

// ObservabilityConfig configures the event ring and its gzip rotation.
type ObservabilityConfig struct {
	RingCapacity   int    `yaml:"ring_capacity"`    // default: 4096
	EventsFile     string `yaml:"events_file"`      // default: "omnidma-events.jsonl"
	RotateMaxBytes int64  `yaml:"rotate_max_bytes"` // default: 64mb
	StatusAddr     string `yaml:"status_addr"`      // default: "127.0.0.1:9090"
	AllowedCIDRs   []string `yaml:"allowed_cidrs"`  // default: ["127.0.0.1/32"]
}

// Load reads and validates path.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating engine config: %w", err)
	}
	return &cfg, nil
}

func (c *EngineConfig) applyDefaults() {
	if c.Flow.BitmapSize <= 0 {
		c.Flow.BitmapSize = 32
	}
	if c.Flow.LookupTableLruSize <= 0 {
		c.Flow.LookupTableLruSize = 1
	}
	if c.Flow.FirstN <= 0 {
		c.Flow.FirstN = 2
	}
	if c.Flow.RttScaleFactor <= 0 {
		c.Flow.RttScaleFactor = 1.5
	}
	if c.Flow.ListTimeout <= 0 {
		c.Flow.ListTimeout = 200 * time.Millisecond
	}
	if c.Flow.InitialTableTimeout <= 0 {
		c.Flow.InitialTableTimeout = 200 * time.Millisecond
	}
	if c.DMA.FixedLatency <= 0 {
		c.DMA.FixedLatency = 100 * time.Nanosecond
	}
	if c.Network.ListenAddr == "" {
		c.Network.ListenAddr = ":9000"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Diagnostics.Schedule == "" {
		c.Diagnostics.Schedule = "@every 30s"
	}
	if c.Observability.RingCapacity <= 0 {
		c.Observability.RingCapacity = 4096
	}
	if c.Observability.EventsFile == "" {
		c.Observability.EventsFile = "omnidma-events.jsonl"
	}
	if c.Observability.RotateMaxBytes <= 0 {
		c.Observability.RotateMaxBytes = 64 << 20
	}
	if c.Observability.StatusAddr == "" {
		c.Observability.StatusAddr = "127.0.0.1:9090"
	}
	if len(c.Observability.AllowedCIDRs) == 0 {
		c.Observability.AllowedCIDRs = []string{"127.0.0.1/32"}
	}
}

func (c *EngineConfig) validate() error {
	if c.Flow.BitmapSize > 256 {
		return fmt.Errorf("flow.bitmap_size must be <= 256, got %d", c.Flow.BitmapSize)
	}
	if c.Flow.RttScaleFactor < 1.0 {
		return fmt.Errorf("flow.rtt_scale_factor must be >= 1.0, got %f", c.Flow.RttScaleFactor)
	}
	if c.DMA.BandwidthBytesPerSec < 0 {
		return fmt.Errorf("dma.bandwidth_bytes_per_sec must be >= 0, got %f", c.DMA.BandwidthBytesPerSec)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
