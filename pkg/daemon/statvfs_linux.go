//go:build linux

package daemon

import (
	"golang.org/x/sys/unix"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// statVFS reports the filesystem holding a host path. statfs has no
// f_favail; like glibc the free inode count is reported for it.
func statVFS(host string) (guestfs.StatVFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(host, &st); err != nil {
		return guestfs.StatVFS{}, err
	}
	frsize := int64(st.Frsize)
	if frsize == 0 {
		frsize = int64(st.Bsize)
	}
	return guestfs.StatVFS{
		Bsize:   int64(st.Bsize),
		Frsize:  frsize,
		Blocks:  int64(st.Blocks),
		Bfree:   int64(st.Bfree),
		Bavail:  int64(st.Bavail),
		Files:   int64(st.Files),
		Ffree:   int64(st.Ffree),
		Favail:  int64(st.Ffree),
		Fsid:    int64(uint32(st.Fsid.Val[0])) | int64(uint32(st.Fsid.Val[1]))<<32,
		Flag:    int64(st.Flags),
		Namemax: int64(st.Namelen),
	}, nil
}
