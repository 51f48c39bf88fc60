package guestfs

import (
	"errors"
	"fmt"
)

// ErrUnknownOptArg is returned when a bitmask or optional argument list
// names an optional argument the action does not declare.
var ErrUnknownOptArg = errors.New("unknown optional argument")

// DecodeError reports a malformed or truncated structure.
type DecodeError struct {
	// What names the structure or argument being decoded.
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MismatchError reports a reply header field that does not echo the call.
type MismatchError struct {
	Field     string
	Got, Want uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reply %s mismatch: got %d, want %d", e.Field, e.Got, e.Want)
}

// ArgError reports an argument value that cannot be encoded for its
// declared kind: wrong Go type, nil string, out of range.
type ArgError struct {
	Action string
	Arg    string
	Err    error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %s: %v", e.Action, e.Arg, e.Err)
}

func (e *ArgError) Unwrap() error { return e.Err }
