//go:build !linux && !darwin

package daemon

import (
	"io/fs"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func statOf(fi fs.FileInfo) guestfs.Stat {
	return statFromInfo(fi)
}
