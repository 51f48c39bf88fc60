//go:build !unix

package logger

import "syscall"

func errnoName(e syscall.Errno) string {
	return e.Error()
}
