package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Write a configuration file with every default spelled out.

Examples:
  # Create $XDG_CONFIG_HOME/guestfsd/config.yaml
  guestfsd config init

  # Create at a custom path, replacing any existing file
  guestfsd config init --config /etc/guestfsd/config.yaml --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	if configPath == "" {
		path, err := config.InitConfig(initForce)
		if err != nil {
			return err
		}
		configPath = path
	} else if err := config.InitConfigToPath(configPath, initForce); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  1. Set sysroot and devices")
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  2. guestfsd start --config %s\n", configPath)
	return nil
}
