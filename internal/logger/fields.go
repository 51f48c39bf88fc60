package logger

import (
	"log/slog"
	"syscall"
)

// Standard field keys. Use them consistently so log queries work across the
// daemon and the client.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection
	KeyConnID = "conn_id"
	KeyPeer   = "peer"

	// Call
	KeyAction   = "action"
	KeyProc     = "proc"
	KeySerial   = "serial"
	KeyBitmask  = "optargs_bitmask"
	KeyKind     = "kind" // local or op, see the dispatcher
	KeyStatus   = "status"
	KeyErrno    = "errno"
	KeyError    = "error"
	KeyDuration = "duration_ms"

	// File transfer
	KeyPath     = "path"
	KeyBytes    = "bytes"
	KeyTotal    = "total"
	KeyHint     = "progress_hint"
	KeyChunks   = "chunks"
	KeyState    = "state"
	KeyCanceled = "cancelled"
)

// Proc returns a slog attribute for a procedure number.
func Proc(nr uint32) slog.Attr {
	return slog.Any(KeyProc, nr)
}

// Serial returns a slog attribute for a call serial.
func Serial(serial uint32) slog.Attr {
	return slog.Any(KeySerial, serial)
}

// Err returns a slog attribute for an error. A nil error yields an empty
// attribute, which handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Errno returns a slog attribute naming an errno value.
func Errno(e syscall.Errno) slog.Attr {
	return slog.String(KeyErrno, errnoName(e))
}

// Bytes returns a slog attribute for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}
