package config

import (
	"testing"
	"time"

	"github.com/marmos91/guestfsrpc/pkg/progress"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Network != "unix" {
		t.Errorf("Expected default network 'unix', got %q", cfg.Server.Network)
	}
	if cfg.Server.Address != "/run/guestfsd.sock" {
		t.Errorf("Expected default address '/run/guestfsd.sock', got %q", cfg.Server.Address)
	}
	if cfg.Server.MaxConnections != 16 {
		t.Errorf("Expected default max connections 16, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyDefaults_Progress(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Progress.InitialDelay != progress.DefaultInitialDelay {
		t.Errorf("Expected initial delay %v, got %v", progress.DefaultInitialDelay, cfg.Progress.InitialDelay)
	}
	if cfg.Progress.Interval != progress.DefaultInterval {
		t.Errorf("Expected interval %v, got %v", progress.DefaultInterval, cfg.Progress.Interval)
	}
	if cfg.Progress.QueueDepth != progress.DefaultQueueDepth {
		t.Errorf("Expected queue depth %d, got %d", progress.DefaultQueueDepth, cfg.Progress.QueueDepth)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port while disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "/var/log/guestfsd.log",
		},
		Server: ServerConfig{
			Network:         "tcp",
			Address:         "0.0.0.0:5000",
			ShutdownTimeout: time.Minute,
		},
		Sysroot: "/mnt/guest",
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/guestfsd.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.Server.Address != "0.0.0.0:5000" {
		t.Errorf("Expected explicit address to be preserved, got %q", cfg.Server.Address)
	}
	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Expected explicit timeout 1m to be preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Sysroot != "/mnt/guest" {
		t.Errorf("Expected explicit sysroot to be preserved, got %q", cfg.Sysroot)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}
