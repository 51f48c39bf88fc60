package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/cli/output"
	"github.com/marmos91/guestfsrpc/pkg/action"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the actions this client knows",
	Long: `List the action catalog compiled into guestfsctl: procedure numbers,
argument signatures and flags. Does not contact the daemon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all := action.Builtin().All()

		type row struct {
			Proc      uint32 `json:"proc" yaml:"proc"`
			Name      string `json:"name" yaml:"name"`
			Signature string `json:"signature" yaml:"signature"`
			Returns   string `json:"returns" yaml:"returns"`
			Flags     string `json:"flags,omitempty" yaml:"flags,omitempty"`
		}
		rows := make([]row, 0, len(all))
		table := output.NewTable("Proc", "Name", "Signature", "Returns", "Flags")
		for _, d := range all {
			r := row{
				Proc:      d.ProcNr,
				Name:      d.Name,
				Signature: signature(d),
				Returns:   d.Ret.Kind.String(),
				Flags:     flags(d),
			}
			if d.Ret.Struct != "" {
				r.Returns += "(" + d.Ret.Struct + ")"
			}
			rows = append(rows, r)
			table.AddRow(strconv.FormatUint(uint64(r.Proc), 10), r.Name, r.Signature, r.Returns, r.Flags)
		}
		return cmdutil.PrintOutput(cmd.OutOrStdout(), rows, len(rows) == 0, "No actions", table)
	},
}

// signature renders "name Kind, ... [opt Kind]".
func signature(d *action.Descriptor) string {
	parts := make([]string, 0, len(d.Args)+len(d.OptArgs))
	for _, a := range d.Args {
		parts = append(parts, a.Name+" "+a.Kind.String())
	}
	for _, a := range d.OptArgs {
		parts = append(parts, "["+a.Name+" "+a.Kind.String()+"]")
	}
	return strings.Join(parts, ", ")
}

func flags(d *action.Descriptor) string {
	var f []string
	if d.ConfigOnly() {
		f = append(f, "config")
	}
	if d.Cancellable() {
		f = append(f, "cancellable")
	}
	if d.EmitsProgress() {
		f = append(f, "progress")
	}
	return strings.Join(f, ",")
}
