//go:build !linux

package daemon

import (
	"syscall"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func statVFS(string) (guestfs.StatVFS, error) {
	return guestfs.StatVFS{}, syscall.ENOSYS
}
