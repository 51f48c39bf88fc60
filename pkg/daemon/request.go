package daemon

import (
	"context"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/action"
)

// Request is one decoded call handed to an action implementation.
//
// Args holds the wire arguments in declaration order (FileIn and FileOut
// tokens are not on the wire and have no entry). OptArgs is aligned with
// Action.OptArgs, nil where absent. Accessors panic on a type mismatch:
// the codec guarantees the types for the declared kinds, so a mismatch is
// a bug in the implementation table.
type Request struct {
	Action  *action.Descriptor
	Header  guestfs.Header
	Args    []any
	OptArgs []any

	// FileIn is set for upload actions, FileOut for download actions.
	FileIn  *FileIn
	FileOut *FileOut

	conn    *Conn
	targets map[int]Resolved
}

// StringArg returns wire argument i as a string.
func (r *Request) StringArg(i int) string { return r.Args[i].(string) }

// Int returns wire argument i as an int32.
func (r *Request) Int(i int) int32 { return r.Args[i].(int32) }

// Int64 returns wire argument i as an int64.
func (r *Request) Int64(i int) int64 { return r.Args[i].(int64) }

// Bool returns wire argument i as a bool.
func (r *Request) Bool(i int) bool { return r.Args[i].(bool) }

// Strings returns wire argument i as a string list.
func (r *Request) Strings(i int) []string { return r.Args[i].([]string) }

// Buffer returns wire argument i as a byte buffer.
func (r *Request) Buffer(i int) []byte { return r.Args[i].([]byte) }

// OptString returns an OptString wire argument.
func (r *Request) OptString(i int) (string, bool) {
	s, _ := r.Args[i].(*string)
	if s == nil {
		return "", false
	}
	return *s, true
}

// Target returns the resolved Pathname, Device or DevOrPath argument i.
func (r *Request) Target(i int) Resolved { return r.targets[i] }

// Path returns the root-relative name of Pathname argument i.
func (r *Request) Path(i int) string { return r.targets[i].Rel }

// OptBool returns optional argument i, or def when absent.
func (r *Request) OptBool(i int, def bool) bool {
	if v, ok := r.OptArgs[i].(bool); ok {
		return v
	}
	return def
}

// OptInt returns optional argument i, or def when absent.
func (r *Request) OptInt(i int, def int32) int32 {
	if v, ok := r.OptArgs[i].(int32); ok {
		return v
	}
	return def
}

// HasOpt reports whether optional argument i was sent.
func (r *Request) HasOpt(i int) bool { return r.OptArgs[i] != nil }

// ns returns the connection's guest namespace.
func (r *Request) ns() *namespace { return r.conn.srv.ns }

// handlerFunc is the common signature of action implementations. The
// result must match Action.Ret as accepted by guestfs.EncodeRet; FileOut
// implementations return nil after streaming.
type handlerFunc func(ctx context.Context, req *Request) (any, error)
