package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/cli/output"
)

var versionLocal bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and daemon versions",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionLocal, "local", false, "Only print the client version")
}

type versionInfo struct {
	Client string `json:"client" yaml:"client"`
	Commit string `json:"commit" yaml:"commit"`
	Daemon string `json:"daemon,omitempty" yaml:"daemon,omitempty"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := versionInfo{Client: Version, Commit: Commit}

	if !versionLocal {
		ctx, cancel := cmdutil.Context()
		defer cancel()

		s, err := cmdutil.Connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		v, err := s.Version(ctx)
		if err != nil {
			return err
		}
		info.Daemon = fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Release, v.Extra)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return output.Print(cmd.OutOrStdout(), format, info)
	}
	pairs := output.KeyValue{{"client", info.Client}, {"commit", info.Commit}}
	if info.Daemon != "" {
		pairs = append(pairs, [2]string{"daemon", info.Daemon})
	}
	return output.PrintKeyValue(cmd.OutOrStdout(), pairs)
}
