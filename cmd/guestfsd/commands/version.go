package commands

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		v := daemonVersion(Version)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "guestfsd %s\n", Version)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  protocol: %d.%d.%d%s\n", v.Major, v.Minor, v.Release, v.Extra)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:   %s\n", Commit)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:    %s\n", Date)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// daemonVersion turns a build version such as "v1.4.2-rc1" into the value
// returned by the version action. Numeric components that are missing or
// unparsable are zero; whatever follows the third number is Extra.
func daemonVersion(s string) guestfs.Version {
	s = strings.TrimPrefix(s, "v")
	var v guestfs.Version
	nums := []*int64{&v.Major, &v.Minor, &v.Release}
	for i, p := range nums {
		end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
		if end == -1 {
			end = len(s)
		}
		if end == 0 {
			break
		}
		n, _ := strconv.ParseInt(s[:end], 10, 64)
		*p = n
		s = s[end:]
		if i < len(nums)-1 {
			if !strings.HasPrefix(s, ".") {
				break
			}
			s = s[1:]
		}
	}
	v.Extra = s
	return v
}
