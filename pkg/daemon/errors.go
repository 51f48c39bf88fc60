package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// ErrCancelled is returned by FileIn.Read when the client cancelled the
// upload, and by FileOut.Write when the client asked to stop a download.
var ErrCancelled = errors.New("transfer cancelled")

// Error is an operational failure reported to the client. Errno, when
// non-zero, is sent by name in the error body.
type Error struct {
	Errno   syscall.Errno
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// Errorf builds an *Error. Use errno 0 for failures that have no errno.
func Errorf(errno syscall.Errno, format string, args ...any) *Error {
	return &Error{Errno: errno, Message: fmt.Sprintf(format, args...)}
}

// pathError reports an os failure on a guest path as "<path>: <strerror>",
// with the errno attached. The host path
// inside *fs.PathError or *os.LinkError is dropped so clients never see
// sysroot locations.
func pathError(path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	var le *os.LinkError
	switch {
	case errors.As(err, &pe):
		err = pe.Err
	case errors.As(err, &le):
		err = le.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Errno: errno, Message: path + ": " + errno.Error()}
	}
	return &Error{Message: path + ": " + err.Error()}
}

// errorBody converts any error returned by an implementation to the error
// body sent on the wire.
func errorBody(err error) guestfs.ErrorBody {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return guestfs.NewErrorBody(guestfs.ErrnoName(errno), err.Error())
	}
	return guestfs.NewErrorBody("", err.Error())
}

// errnoOf returns the name of the errno carried by err, "" if none.
func errnoOf(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return guestfs.ErrnoName(errno)
	}
	return ""
}
