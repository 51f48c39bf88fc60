package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the guestfsd configuration file.

Checks for syntax errors, missing required fields, and invalid values, and
warns about paths that do not exist on this host.

Examples:
  # Validate default config
  guestfsd config validate

  # Validate specific config file
  guestfsd config validate --config /etc/guestfsd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if fi, err := os.Stat(cfg.Sysroot); err != nil {
		warnings = append(warnings, fmt.Sprintf("sysroot %s: %v", cfg.Sysroot, err))
	} else if !fi.IsDir() {
		warnings = append(warnings, fmt.Sprintf("sysroot %s is not a directory", cfg.Sysroot))
	}
	for name, backing := range cfg.Devices {
		if _, err := os.Stat(backing); err != nil {
			warnings = append(warnings, fmt.Sprintf("device %s: %v", name, err))
		}
	}
	if _, ok := logger.ParseLevel(cfg.Logging.Level); !ok {
		warnings = append(warnings, fmt.Sprintf("log level %q is not recognised", cfg.Logging.Level))
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Listen:           %s %s\n", cfg.Server.Network, cfg.Server.Address)
	_, _ = fmt.Fprintf(out, "  Sysroot:          %s\n", cfg.Sysroot)
	_, _ = fmt.Fprintf(out, "  Devices:          %d\n", len(cfg.Devices))
	_, _ = fmt.Fprintf(out, "  Max message size: %s\n", cfg.Server.MaxMessageSize)
	_, _ = fmt.Fprintf(out, "  Log level:        %s\n", cfg.Logging.Level)
	return nil
}
