package config

import (
	"strings"

	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/internal/telemetry"
	"github.com/marmos91/guestfsrpc/pkg/daemon"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// DefaultSysroot is where the guest root filesystem is mounted.
const DefaultSysroot = "/sysroot"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyProgressDefaults(&cfg.Progress)

	if cfg.Sysroot == "" {
		cfg.Sysroot = DefaultSysroot
	}
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

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Exporter == "" {
		cfg.Exporter = telemetry.ExporterOTLP
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
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

// applyMetricsDefaults sets metrics defaults. The port only matters when
// metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Network == "" {
		cfg.Network = daemon.DefaultNetwork
	}
	if cfg.Address == "" {
		cfg.Address = daemon.DefaultAddress
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = daemon.DefaultMaxConnections
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = bytesize.ByteSize(guestfs.MessageMax)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = daemon.DefaultShutdownTimeout
	}
}

func applyProgressDefaults(cfg *ProgressConfig) {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = progress.DefaultInitialDelay
	}
	if cfg.Interval == 0 {
		cfg.Interval = progress.DefaultInterval
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = progress.DefaultQueueDepth
	}
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

// ============================================================================
// Component Configuration
// ============================================================================

// DaemonConfig returns the settings of the RPC server. version is reported
// by the version action.
func (c *Config) DaemonConfig(version guestfs.Version) daemon.Config {
	return daemon.Config{
		Network:        c.Server.Network,
		Address:        c.Server.Address,
		MaxConnections: c.Server.MaxConnections,
		MaxMessageSize: uint32(c.Server.MaxMessageSize),
		Sysroot:        c.Sysroot,
		Devices:        c.Devices,
		Progress: progress.NotifierConfig{
			InitialDelay: c.Progress.InitialDelay,
			Interval:     c.Progress.Interval,
		},
		QueueDepth: c.Progress.QueueDepth,
		Version:    version,
	}
}

// TelemetryConfig returns the tracing settings for the telemetry package.
func (c *Config) TelemetryConfig(serviceVersion string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "guestfsd",
		ServiceVersion: serviceVersion,
		Exporter:       c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig returns the Pyroscope settings for the telemetry package.
func (c *Config) ProfilingConfig(serviceVersion string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    "guestfsd",
		ServiceVersion: serviceVersion,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}
