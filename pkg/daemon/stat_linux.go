//go:build linux

package daemon

import (
	"io/fs"
	"syscall"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func statOf(fi fs.FileInfo) guestfs.Stat {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return statFromInfo(fi)
	}
	return guestfs.Stat{
		Dev:     int64(st.Dev),
		Ino:     int64(st.Ino),
		Mode:    int64(st.Mode),
		Nlink:   int64(st.Nlink),
		UID:     int64(st.Uid),
		GID:     int64(st.Gid),
		Rdev:    int64(st.Rdev),
		Size:    int64(st.Size),
		Blksize: int64(st.Blksize),
		Blocks:  int64(st.Blocks),
		Atime:   int64(st.Atim.Sec),
		Mtime:   int64(st.Mtim.Sec),
		Ctime:   int64(st.Ctim.Sec),
	}
}
