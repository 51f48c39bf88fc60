package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/telemetry"
	"github.com/marmos91/guestfsrpc/pkg/action"
	"github.com/marmos91/guestfsrpc/pkg/api"
	"github.com/marmos91/guestfsrpc/pkg/config"
	"github.com/marmos91/guestfsrpc/pkg/daemon"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
	"github.com/marmos91/guestfsrpc/pkg/metrics/prometheus"
)

var (
	sysrootFlag string
	addressFlag string
	networkFlag string
	noWatch     bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start guestfsd in the foreground.

The configuration file is optional: without one the daemon listens on
/run/guestfsd.sock and serves /sysroot. Flags override the file.

Examples:
  # Start with the default configuration
  guestfsd start

  # Serve a directory over TCP
  guestfsd start --network tcp --address 127.0.0.1:5555 --sysroot /mnt/guest

  # Start with environment variable overrides
  GUESTFSD_LOGGING_LEVEL=DEBUG guestfsd start --config /etc/guestfsd/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&sysrootFlag, "sysroot", "", "Directory guest paths resolve into (overrides config)")
	startCmd.Flags().StringVar(&addressFlag, "address", "", "Listen address: socket path or host:port (overrides config)")
	startCmd.Flags().StringVar(&networkFlag, "network", "", "Listen network: unix or tcp (overrides config)")
	startCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload log settings when the config file changes")
}

func loadStartConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if sysrootFlag != "" {
		cfg.Sysroot = sysrootFlag
	}
	if addressFlag != "" {
		cfg.Server.Address = addressFlag
	}
	if networkFlag != "" {
		cfg.Server.Network = networkFlag
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadStartConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingStop, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingStop(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	source := configPath(GetConfigFile())
	if source == "" {
		source = "defaults"
	}
	logger.Info("Configuration loaded", "source", source)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "exporter", cfg.Telemetry.Exporter, "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	srv, err := daemon.NewServer(cfg.DaemonConfig(daemonVersion(Version)), prometheus.NewDaemonMetrics())
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if path := configPath(GetConfigFile()); path != "" && !noWatch {
		if err := config.Watch(path, config.ApplyRuntime); err != nil {
			logger.Warn("Config file watch disabled", logger.KeyError, err)
		}
	}

	var group run.Group

	// Daemon
	{
		group.Add(func() error {
			return srv.Serve(ctx)
		}, func(error) {
			if err := srv.Stop(cfg.Server.ShutdownTimeout); err != nil {
				logger.Error("Daemon shutdown error", logger.KeyError, err)
			}
		})
	}

	// Health, action catalog and metrics
	if cfg.Metrics.Enabled {
		apiServer := api.NewServer(api.APIConfig{Port: cfg.Metrics.Port}, srv, action.Builtin(), metrics.GetRegistry())
		apiCtx, apiCancel := context.WithCancel(ctx)
		group.Add(func() error {
			return apiServer.Start(apiCtx)
		}, func(error) {
			apiCancel()
		})
	}

	// Signals
	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	logger.Info("guestfsd is running. Press Ctrl+C to stop.", "version", Version)

	err = group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info("Shutdown signal received", "signal", sig.Signal.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("guestfsd stopped: %w", err)
	}
	return nil
}
