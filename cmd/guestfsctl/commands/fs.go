package commands

import (
	"fmt"
	"io/fs"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/cmd/guestfsctl/cmdutil"
	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/cli/output"
	"github.com/marmos91/guestfsrpc/internal/cli/timeutil"
	"github.com/marmos91/guestfsrpc/pkg/client"
)

// withSession runs fn on a launched session under the command context.
func withSession(fn func(ctx sessionContext) error) error {
	ctx, cancel := cmdutil.Context()
	defer cancel()

	s, err := cmdutil.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(sessionContext{Context: ctx, s: s})
}

// ============================================================================
// ls / ll
// ============================================================================

var lsCmd = &cobra.Command{
	Use:   "ls <directory>",
	Short: "List the names in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			names, err := ctx.s.Ls(ctx, args[0])
			if err != nil {
				return err
			}
			table := output.NewTable("Name")
			for _, n := range names {
				table.AddRow(n)
			}
			return cmdutil.PrintOutput(cmd.OutOrStdout(), names, len(names) == 0, "(empty)", table)
		})
	},
}

// entry is one row of ll.
type entry struct {
	Name  string `json:"name" yaml:"name"`
	Mode  string `json:"mode" yaml:"mode"`
	Size  int64  `json:"size" yaml:"size"`
	UID   int64  `json:"uid" yaml:"uid"`
	GID   int64  `json:"gid" yaml:"gid"`
	Mtime string `json:"mtime" yaml:"mtime"`
}

var llCmd = &cobra.Command{
	Use:   "ll <directory>",
	Short: "List a directory with file details",
	Long: `List a directory like "ls -l". Entries are read with readdir and
stat'ed in one lstatlist call.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			dirents, err := ctx.s.Readdir(ctx, args[0])
			if err != nil {
				return err
			}
			names := make([]string, len(dirents))
			for i, d := range dirents {
				names[i] = d.Name
			}
			stats, err := ctx.s.LstatList(ctx, args[0], names)
			if err != nil {
				return err
			}

			entries := make([]entry, 0, len(stats))
			table := output.NewTable("Mode", "UID", "GID", "Size", "Modified", "Name")
			for i, st := range stats {
				if st.Ino == -1 {
					// Removed between readdir and lstatlist.
					continue
				}
				e := entry{
					Name:  names[i],
					Mode:  modeString(st.Mode),
					Size:  st.Size,
					UID:   st.UID,
					GID:   st.GID,
					Mtime: timeutil.FormatUnix(st.Mtime),
				}
				entries = append(entries, e)
				table.AddRow(e.Mode, strconv.FormatInt(e.UID, 10), strconv.FormatInt(e.GID, 10),
					strconv.FormatInt(e.Size, 10), e.Mtime, e.Name)
			}
			return cmdutil.PrintOutput(cmd.OutOrStdout(), entries, len(entries) == 0, "(empty)", table)
		})
	},
}

// modeString formats a raw st_mode like ls does ("drwxr-xr-x").
func modeString(mode int64) string {
	m := fs.FileMode(mode & 0o777)
	switch mode & 0o170000 {
	case 0o040000:
		m |= fs.ModeDir
	case 0o120000:
		m |= fs.ModeSymlink
	case 0o060000:
		m |= fs.ModeDevice
	case 0o020000:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case 0o010000:
		m |= fs.ModeNamedPipe
	case 0o140000:
		m |= fs.ModeSocket
	}
	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m.String()
}

// ============================================================================
// stat
// ============================================================================

var statNoFollow bool

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show file status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			var (
				st  *client.Stat
				err error
			)
			if statNoFollow {
				st, err = ctx.s.Lstat(ctx, args[0])
			} else {
				st, err = ctx.s.Stat(ctx, args[0])
			}
			if err != nil {
				return err
			}

			format, err := cmdutil.GetOutputFormatParsed()
			if err != nil {
				return err
			}
			if format != output.FormatTable {
				return output.Print(cmd.OutOrStdout(), format, st)
			}
			return output.PrintKeyValue(cmd.OutOrStdout(), output.KeyValue{
				{"path", args[0]},
				{"mode", fmt.Sprintf("%s (%04o)", modeString(st.Mode), st.Mode&0o7777)},
				{"size", fmt.Sprintf("%d (%s)", st.Size, bytesize.ByteSize(st.Size))},
				{"inode", strconv.FormatInt(st.Ino, 10)},
				{"links", strconv.FormatInt(st.Nlink, 10)},
				{"uid/gid", fmt.Sprintf("%d/%d", st.UID, st.GID)},
				{"blocks", strconv.FormatInt(st.Blocks, 10)},
				{"access", timeutil.FormatUnix(st.Atime)},
				{"modify", timeutil.FormatUnix(st.Mtime)},
				{"change", timeutil.FormatUnix(st.Ctime)},
			})
		})
	},
}

func init() {
	statCmd.Flags().BoolVarP(&statNoFollow, "no-follow", "L", false, "Do not follow a final symbolic link (lstat)")
}

// ============================================================================
// cat
// ============================================================================

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a small file",
	Long: `Print a file in one message. Files too large for one protocol message
fail; use "guestfsctl download <path> -" for those.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			data, err := ctx.s.ReadFile(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

// ============================================================================
// mkdir / rm
// ============================================================================

var (
	mkdirParents bool
	mkdirMode    string
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := client.MkdirOpts{}
		if mkdirParents {
			opts.Parents = client.Ptr(true)
		}
		if mkdirMode != "" {
			mode, err := strconv.ParseInt(mkdirMode, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid mode %q: %w", mkdirMode, err)
			}
			opts.Mode = client.Ptr(int32(mode))
		}
		return withSession(func(ctx sessionContext) error {
			return ctx.s.Mkdir(ctx, args[0], opts)
		})
	},
}

var (
	rmForce     bool
	rmRecursive bool
)

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file or, with -r, a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := client.RmOpts{}
		if rmForce {
			opts.Force = client.Ptr(true)
		}
		if rmRecursive {
			opts.Recursive = client.Ptr(true)
		}
		return withSession(func(ctx sessionContext) error {
			return ctx.s.Rm(ctx, args[0], opts)
		})
	},
}

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parents, no error if it exists")
	mkdirCmd.Flags().StringVarP(&mkdirMode, "mode", "m", "", "Permission bits in octal (default 0777 minus umask)")
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Ignore missing files")
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "Remove directories and their contents")
}

// ============================================================================
// checksum / find
// ============================================================================

var checksumType string

var checksumCmd = &cobra.Command{
	Use:   "checksum <path>",
	Short: "Compute a checksum of a file on the daemon",
	Long: `Compute a checksum without transferring the file. Supported types:
md5, sha1, sha224, sha256, sha384, sha512.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx sessionContext) error {
			sum, err := ctx.s.Checksum(ctx, checksumType, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, args[0])
			return nil
		})
	},
}

var findSuffix string

var findCmd = &cobra.Command{
	Use:   "find <directory>",
	Short: "List everything below a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var suffix *string
		if cmd.Flags().Changed("suffix") {
			suffix = &findSuffix
		}
		return withSession(func(ctx sessionContext) error {
			paths, err := ctx.s.Find(ctx, args[0], suffix)
			if err != nil {
				return err
			}
			table := output.NewTable("Path")
			for _, p := range paths {
				table.AddRow(p)
			}
			return cmdutil.PrintOutput(cmd.OutOrStdout(), paths, len(paths) == 0, "(no matches)", table)
		})
	},
}

func init() {
	checksumCmd.Flags().StringVarP(&checksumType, "type", "t", "sha256", "Checksum type")
	findCmd.Flags().StringVar(&findSuffix, "suffix", "", "Only list paths ending in this suffix")
}
