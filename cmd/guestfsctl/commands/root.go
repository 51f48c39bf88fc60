// Package commands implements the guestfsctl command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "guestfsctl",
	Short: "guestfsctl - call actions on a guestfsd daemon",
	Long: `guestfsctl connects to a guestfsd daemon, launches a session and runs
one action against the guest filesystem.

Use "guestfsctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "WARN"
		if cmdutil.Flags.Verbose || cmdutil.Flags.Trace {
			level = "DEBUG"
		}
		logger.InitWithWriter(cmd.ErrOrStderr(), level, "text", false)
	},
}

// Execute runs the root command. Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cmdutil.Flags.Network, "network", cmdutil.Flags.Network, "Daemon network: unix or tcp")
	f.StringVarP(&cmdutil.Flags.Address, "address", "a", cmdutil.Flags.Address, "Daemon address: socket path or host:port")
	f.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	f.DurationVar(&cmdutil.Flags.Timeout, "timeout", 0, "Abort the call after this long (0 waits forever)")
	f.BoolVarP(&cmdutil.Flags.Verbose, "verbose", "v", false, "Verbose logging")
	f.BoolVar(&cmdutil.Flags.Trace, "trace", false, "Log every call and its result")
	f.BoolVar(&cmdutil.Flags.Progress, "progress", false, "Show progress of file transfers")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(llCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(checksumCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(devicesCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
