//go:build darwin

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
		Size:    st.Size,
		Blksize: int64(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   st.Atimespec.Sec,
		Mtime:   st.Mtimespec.Sec,
		Ctime:   st.Ctimespec.Sec,
	}
}
