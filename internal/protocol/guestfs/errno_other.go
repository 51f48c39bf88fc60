//go:build !unix

package guestfs

import "syscall"

// ErrnoName returns "" on platforms without errno names.
func ErrnoName(syscall.Errno) string { return "" }

// ErrnoValue returns 0 on platforms without errno names.
func ErrnoValue(string) syscall.Errno { return 0 }
