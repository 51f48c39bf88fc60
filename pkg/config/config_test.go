package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	sysroot := t.TempDir()
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

sysroot: "`+yamlSafePath(sysroot)+`"

server:
  network: tcp
  address: "127.0.0.1:5555"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Network != "tcp" || cfg.Server.Address != "127.0.0.1:5555" {
		t.Errorf("Expected tcp listener on 127.0.0.1:5555, got %s %s", cfg.Server.Network, cfg.Server.Address)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown_timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.MaxMessageSize != bytesize.ByteSize(guestfs.MessageMax) {
		t.Errorf("Expected default max_message_size %d, got %d", guestfs.MessageMax, cfg.Server.MaxMessageSize)
	}
	if cfg.Sysroot != sysroot {
		t.Errorf("Expected sysroot %q, got %q", sysroot, cfg.Sysroot)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A missing file yields the defaults, so the daemon can run without one.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Sysroot != DefaultSysroot {
		t.Errorf("Expected default sysroot %q, got %q", DefaultSysroot, cfg.Sysroot)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  network: udp
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for network 'udp'")
	}
}

func TestLoad_HumanReadableValues(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  max_message_size: 1Mi
  shutdown_timeout: 45s

progress:
  initial_delay: 500ms
  interval: 100ms
  queue_depth: 4

devices:
  /dev/sda: /var/lib/guestfsd/disk.img
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.MaxMessageSize != bytesize.MiB {
		t.Errorf("Expected max_message_size 1MiB, got %s", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected shutdown_timeout 45s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Progress.InitialDelay != 500*time.Millisecond || cfg.Progress.Interval != 100*time.Millisecond {
		t.Errorf("Unexpected progress timing: %+v", cfg.Progress)
	}
	if cfg.Progress.QueueDepth != 4 {
		t.Errorf("Expected queue_depth 4, got %d", cfg.Progress.QueueDepth)
	}
	if got := cfg.Devices["/dev/sda"]; got != "/var/lib/guestfsd/disk.img" {
		t.Errorf("Expected /dev/sda backing file, got %q", got)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
network = "tcp"
address = "127.0.0.1:7000"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Address != "127.0.0.1:7000" {
		t.Errorf("Expected address 127.0.0.1:7000, got %q", cfg.Server.Address)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("GUESTFSD_LOGGING_LEVEL", "ERROR")
	t.Setenv("GUESTFSD_SERVER_ADDRESS", "/tmp/override.sock")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

server:
  address: /run/guestfsd.sock
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Address != "/tmp/override.sock" {
		t.Errorf("Expected address from env var, got %q", cfg.Server.Address)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := MustLoad(path); err == nil {
		t.Fatal("Expected error for a missing config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Sysroot = "/srv/guest"
	cfg.Server.MaxMessageSize = 512 * bytesize.KiB
	cfg.Devices = map[string]string{"/dev/sdb": "/images/b.img"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Sysroot != "/srv/guest" {
		t.Errorf("Expected sysroot '/srv/guest', got %q", loaded.Sysroot)
	}
	if loaded.Server.MaxMessageSize != 512*bytesize.KiB {
		t.Errorf("Expected max_message_size 512KiB, got %s", loaded.Server.MaxMessageSize)
	}
	if loaded.Progress.Interval != cfg.Progress.Interval {
		t.Errorf("Expected interval %v, got %v", cfg.Progress.Interval, loaded.Progress.Interval)
	}
	if loaded.Devices["/dev/sdb"] != "/images/b.img" {
		t.Errorf("Expected device mapping to survive, got %v", loaded.Devices)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := GetConfigDir()

	if filepath.Base(dir) != "guestfsd" {
		t.Errorf("Expected directory name 'guestfsd', got %q", filepath.Base(dir))
	}
}

func TestDaemonConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.MaxMessageSize = bytesize.MiB
	v := guestfs.Version{Major: 1, Minor: 52, Extra: "x"}

	dc := cfg.DaemonConfig(v)
	if dc.MaxMessageSize != 1<<20 {
		t.Errorf("Expected MaxMessageSize 1MiB, got %d", dc.MaxMessageSize)
	}
	if dc.Progress.Interval != cfg.Progress.Interval || dc.QueueDepth != cfg.Progress.QueueDepth {
		t.Errorf("Progress settings not carried over: %+v", dc)
	}
	if dc.Version != v {
		t.Errorf("Expected version %+v, got %+v", v, dc.Version)
	}
}
