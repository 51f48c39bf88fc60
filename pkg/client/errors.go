package client

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrSessionClosed is returned by calls on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionPoisoned is returned by every call after a transport or
	// protocol error left the stream in an unknown state. The session must
	// be closed and a new one opened.
	ErrSessionPoisoned = errors.New("session is unusable after a protocol error")
)

// ValidationError is a call rejected locally before anything was sent.
type ValidationError struct {
	Action string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Action == "" {
		return e.Err.Error()
	}
	return e.Action + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(action, format string, args ...any) *ValidationError {
	return &ValidationError{Action: action, Err: fmt.Errorf(format, args...)}
}

// ProtocolError reports a reply that does not fit the protocol: a header
// that does not echo the call, an undecodable body, an unexpected frame.
// It poisons the session.
type ProtocolError struct {
	Action string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %v", e.Action, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is a failure reported by the daemon, or a transfer that
// ended by cancellation. Errno is the value of ErrnoName on this platform,
// 0 when the daemon sent no errno.
type RemoteError struct {
	Proc      uint32
	Action    string
	Message   string
	ErrnoName string
	Errno     syscall.Errno
}

func (e *RemoteError) Error() string {
	return e.Action + ": " + e.Message
}

// Unwrap exposes Errno so errors.Is(err, syscall.ENOENT) works.
func (e *RemoteError) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// Cancelled reports whether err is the result of a transfer cancelled by
// the caller.
func Cancelled(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Errno == syscall.EINTR && re.Message == msgUserCancel
}

const (
	msgUserCancel       = "operation cancelled by user"
	msgDaemonCancelled  = "file receive cancelled by daemon"
	msgUnexpectedLaunch = "received unexpected launch flag from daemon when expecting reply"
)
