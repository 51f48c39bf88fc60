//go:build unix

package guestfs

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// maxErrno bounds the scan that builds the name table.
const maxErrno = 4096

// errnoAliases are names that share a value with another errno on some
// platforms, so unix.ErrnoName only ever reports one of them.
var errnoAliases = map[string]syscall.Errno{
	"EOPNOTSUPP":  unix.EOPNOTSUPP,
	"ENOTSUP":     unix.ENOTSUP,
	"EWOULDBLOCK": unix.EWOULDBLOCK,
	"EAGAIN":      unix.EAGAIN,
}

var errnoByName = sync.OnceValue(func() map[string]syscall.Errno {
	m := make(map[string]syscall.Errno, len(errnoAliases)+160)
	for e := syscall.Errno(1); e < maxErrno; e++ {
		if name := unix.ErrnoName(e); name != "" {
			m[name] = e
		}
	}
	for name, e := range errnoAliases {
		m[name] = e
	}
	return m
})

// ErrnoName returns the symbolic name sent in an error body ("ENOENT"), or
// "" when the value has no name on this platform.
func ErrnoName(e syscall.Errno) string {
	if e == 0 {
		return ""
	}
	return unix.ErrnoName(e)
}

// ErrnoValue maps a name received in an error body back to an errno. It
// returns 0 for names unknown on this platform.
func ErrnoValue(name string) syscall.Errno {
	if name == "" {
		return 0
	}
	return errnoByName()[name]
}
