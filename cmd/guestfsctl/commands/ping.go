package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/cli/timeutil"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon answers",
	Long: `Launch a session and call ping, printing the round trip time.

Examples:
  guestfsctl ping
  guestfsctl ping --count 5 --network tcp --address 127.0.0.1:5555`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 1, "Number of pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdutil.Context()
	defer cancel()

	s, err := cmdutil.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	for i := 0; i < pingCount; i++ {
		start := time.Now()
		if err := s.Ping(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ping %s: seq=%d time=%s\n",
			cmdutil.Flags.Address, i+1, timeutil.FormatElapsed(time.Since(start)))
	}
	return nil
}
