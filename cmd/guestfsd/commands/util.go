package commands

import (
	"fmt"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// configPath returns the file the configuration was read from, or "" when
// running on defaults.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}
