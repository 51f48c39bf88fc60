package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/guestfsrpc/internal/logger"
)

// Watch re-reads the configuration file whenever it is written and passes
// the new configuration to onChange. A file that fails to load or validate
// is logged and ignored, keeping the previous configuration in effect.
//
// Only settings that can change at runtime should be applied by
// onChange; the listener and sysroot are fixed for the life of the
// process.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", logger.KeyPath, e.Name, logger.KeyError, err)
			return
		}
		logger.Info("Configuration reloaded", logger.KeyPath, e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyRuntime applies the settings of cfg that can change without a
// restart: the log level and format.
func ApplyRuntime(cfg *Config) {
	if logger.GetLevel().String() != cfg.Logging.Level {
		logger.Info("Log level changed", "from", logger.GetLevel().String(), "to", cfg.Logging.Level)
		logger.SetLevel(cfg.Logging.Level)
	}
	logger.SetFormat(cfg.Logging.Format)
}
