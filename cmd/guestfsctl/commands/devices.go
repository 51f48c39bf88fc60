package commands

import (
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/cli/output"
)

type deviceInfo struct {
	Device     string `json:"device" yaml:"device"`
	Size       int64  `json:"size" yaml:"size"`
	Filesystem string `json:"filesystem" yaml:"filesystem"`
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List guest block devices with their size and filesystem",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			devs, err := ctx.s.ListDevices(ctx)
			if err != nil {
				return err
			}
			filesystems, err := ctx.s.ListFilesystems(ctx)
			if err != nil {
				return err
			}
			slices.Sort(devs)

			infos := make([]deviceInfo, 0, len(devs))
			table := output.NewTable("Device", "Size", "Bytes", "Filesystem")
			for _, d := range devs {
				size, err := ctx.s.BlockdevGetsize64(ctx, d)
				if err != nil {
					return err
				}
				info := deviceInfo{Device: d, Size: size, Filesystem: filesystems[d]}
				infos = append(infos, info)
				table.AddRow(d, bytesize.ByteSize(size).String(), strconv.FormatInt(size, 10), info.Filesystem)
			}
			return cmdutil.PrintOutput(cmd.OutOrStdout(), infos, len(infos) == 0, "No devices configured", table)
		})
	},
}
