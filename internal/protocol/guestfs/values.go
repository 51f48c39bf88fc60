package guestfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/marmos91/guestfsrpc/internal/protocol/xdr"
	"github.com/marmos91/guestfsrpc/pkg/action"
)

// Limits applied while decoding arguments and return values. A string or
// buffer can never be larger than the message that carries it.
const (
	maxStringLen = MessageMax
	maxListItems = MessageMax / 4
)

var (
	errNilString = errors.New("string argument must not be nil")
	errWrongType = errors.New("wrong type")
)

// Hashtable is a flattened list of alternating keys and values, the
// in-memory form of a hashtable return. On the wire it is a string list of
// 2n entries.
type Hashtable []string

// Len returns the number of key/value pairs.
func (h Hashtable) Len() int { return len(h) / 2 }

// Get returns the value of the first pair whose key is k.
func (h Hashtable) Get(k string) (string, bool) {
	for i := 0; i+1 < len(h); i += 2 {
		if h[i] == k {
			return h[i+1], true
		}
	}
	return "", false
}

// Map converts the table to a map. Later duplicates win.
func (h Hashtable) Map() map[string]string {
	m := make(map[string]string, h.Len())
	for i := 0; i+1 < len(h); i += 2 {
		m[h[i]] = h[i+1]
	}
	return m
}

// ============================================================================
// Arguments
// ============================================================================

// WireArgs returns the required arguments that appear in the encoded body,
// i.e. all but the FileIn/FileOut tokens, in declaration order.
func WireArgs(d *action.Descriptor) []action.ArgSpec {
	out := make([]action.ArgSpec, 0, len(d.Args))
	for _, a := range d.Args {
		if a.Kind.OnWire() {
			out = append(out, a)
		}
	}
	return out
}

// EncodeArgs appends the arguments of a call to buf and returns the
// optional-argument bitmask to put in the header.
//
// args holds one value per wire argument (see WireArgs). opts is aligned
// with d.OptArgs; a nil entry means the optional argument is absent and
// opts may be shorter than d.OptArgs. An opts longer than d.OptArgs is
// rejected with ErrUnknownOptArg.
//
// Nothing is written to buf when an error is returned.
func EncodeArgs(buf *bytes.Buffer, d *action.Descriptor, args, opts []any) (Bitmask, error) {
	wire := WireArgs(d)
	if len(args) != len(wire) {
		return 0, &ArgError{Action: d.Name, Arg: "*", Err: fmt.Errorf("got %d arguments, want %d", len(args), len(wire))}
	}
	if len(opts) > len(d.OptArgs) {
		return 0, &ArgError{Action: d.Name, Arg: fmt.Sprintf("optional #%d", len(d.OptArgs)), Err: ErrUnknownOptArg}
	}

	var body bytes.Buffer
	for i, spec := range wire {
		if err := encodeValue(&body, spec.Kind, args[i]); err != nil {
			return 0, &ArgError{Action: d.Name, Arg: spec.Name, Err: err}
		}
	}

	var mask Bitmask
	for i, v := range opts {
		if v == nil {
			continue
		}
		spec := d.OptArgs[i]
		if err := encodeValue(&body, spec.Kind, v); err != nil {
			return 0, &ArgError{Action: d.Name, Arg: spec.Name, Err: err}
		}
		mask = mask.Set(i)
	}

	buf.Write(body.Bytes())
	return mask, nil
}

// DecodeArgs decodes the arguments of a call for d. The bitmask is checked
// before anything is read. The returned opts always has len(d.OptArgs)
// entries, nil where absent.
func DecodeArgs(r io.Reader, d *action.Descriptor, mask Bitmask) (args, opts []any, err error) {
	if err := mask.Check(len(d.OptArgs)); err != nil {
		return nil, nil, err
	}

	wire := WireArgs(d)
	args = make([]any, len(wire))
	for i, spec := range wire {
		if args[i], err = decodeValue(r, spec.Kind); err != nil {
			return nil, nil, &DecodeError{What: "argument " + spec.Name, Err: err}
		}
	}

	opts = make([]any, len(d.OptArgs))
	for i, spec := range d.OptArgs {
		if !mask.Has(i) {
			continue
		}
		if opts[i], err = decodeValue(r, spec.Kind); err != nil {
			return nil, nil, &DecodeError{What: "optional argument " + spec.Name, Err: err}
		}
	}
	return args, opts, nil
}

func encodeValue(buf *bytes.Buffer, kind action.ArgKind, v any) error {
	switch kind {
	case action.Bool:
		b, ok := v.(bool)
		if !ok {
			return typeError(v, "bool")
		}
		return xdr.WriteBool(buf, b)

	case action.Int:
		switch n := v.(type) {
		case int32:
			return xdr.WriteInt32(buf, n)
		case int:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return fmt.Errorf("value %d out of range for Int", n)
			}
			return xdr.WriteInt32(buf, int32(n))
		}
		return typeError(v, "int32")

	case action.Int64:
		switch n := v.(type) {
		case int64:
			return xdr.WriteInt64(buf, n)
		case int:
			return xdr.WriteInt64(buf, int64(n))
		case int32:
			return xdr.WriteInt64(buf, int64(n))
		}
		return typeError(v, "int64")

	case action.String, action.Pathname, action.Device, action.DevOrPath:
		s, err := requireString(v)
		if err != nil {
			return err
		}
		return xdr.WriteXDRString(buf, s)

	case action.OptString:
		switch s := v.(type) {
		case nil:
			return xdr.WriteOptionalString(buf, nil)
		case *string:
			return xdr.WriteOptionalString(buf, s)
		case string:
			return xdr.WriteOptionalString(buf, &s)
		}
		return typeError(v, "*string")

	case action.StringList:
		list, ok := v.([]string)
		if !ok {
			return typeError(v, "[]string")
		}
		return xdr.WriteStringList(buf, list)

	case action.Buffer:
		b, ok := v.([]byte)
		if !ok {
			return typeError(v, "[]byte")
		}
		return xdr.WriteXDROpaque(buf, b)
	}
	return fmt.Errorf("kind %s has no wire encoding", kind)
}

func requireString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case *string:
		if s == nil {
			return "", errNilString
		}
		return *s, nil
	case nil:
		return "", errNilString
	}
	return "", typeError(v, "string")
}

func typeError(v any, want string) error {
	return fmt.Errorf("%w: got %T, want %s", errWrongType, v, want)
}

// IsNilString reports whether err was caused by a nil string argument.
func IsNilString(err error) bool { return errors.Is(err, errNilString) }

func decodeValue(r io.Reader, kind action.ArgKind) (any, error) {
	switch kind {
	case action.Bool:
		return xdr.DecodeBool(r)
	case action.Int:
		return xdr.DecodeInt32(r)
	case action.Int64:
		return xdr.DecodeInt64(r)
	case action.String, action.Pathname, action.Device, action.DevOrPath:
		return xdr.DecodeStringMax(r, maxStringLen)
	case action.OptString:
		return xdr.DecodeOptionalString(r, maxStringLen)
	case action.StringList:
		return xdr.DecodeStringList(r, maxListItems, maxStringLen)
	case action.Buffer:
		return xdr.DecodeOpaqueMax(r, MessageMax)
	}
	return nil, fmt.Errorf("kind %s has no wire encoding", kind)
}

// ============================================================================
// Return Values
// ============================================================================

// EncodeRet appends a return value of the given spec to buf.
//
// Accepted Go values: nil for RetNone, int32/int for RetInt, int64 for
// RetInt64, bool, string, []string, Hashtable (or []string of even length)
// for RetHashtable, *T or T for RetStruct, []T for RetStructList and []byte
// for RetBuffer.
func EncodeRet(buf *bytes.Buffer, spec action.RetSpec, v any) error {
	var body bytes.Buffer
	if err := encodeRet(&body, spec, v); err != nil {
		return fmt.Errorf("encode %s return: %w", spec.Kind, err)
	}
	buf.Write(body.Bytes())
	return nil
}

func encodeRet(buf *bytes.Buffer, spec action.RetSpec, v any) error {
	switch spec.Kind {
	case action.RetNone:
		if v != nil {
			return typeError(v, "nil")
		}
		return nil
	case action.RetInt:
		return encodeValue(buf, action.Int, v)
	case action.RetInt64:
		return encodeValue(buf, action.Int64, v)
	case action.RetBool:
		return encodeValue(buf, action.Bool, v)
	case action.RetString:
		s, ok := v.(string)
		if !ok {
			return typeError(v, "string")
		}
		return xdr.WriteXDRString(buf, s)
	case action.RetStringList:
		return encodeValue(buf, action.StringList, v)
	case action.RetHashtable:
		var list []string
		switch h := v.(type) {
		case Hashtable:
			list = h
		case []string:
			list = h
		default:
			return typeError(v, "Hashtable")
		}
		if len(list)%2 != 0 {
			return fmt.Errorf("hashtable has odd number of entries (%d)", len(list))
		}
		return xdr.WriteStringList(buf, list)
	case action.RetStruct:
		st, err := lookupStruct(spec.Struct)
		if err != nil {
			return err
		}
		return st.encode(buf, v)
	case action.RetStructList:
		st, err := lookupStruct(spec.Struct)
		if err != nil {
			return err
		}
		return st.encodeList(buf, v)
	case action.RetBuffer:
		b, ok := v.([]byte)
		if !ok {
			return typeError(v, "[]byte")
		}
		return xdr.WriteXDROpaque(buf, b)
	}
	return fmt.Errorf("unknown return kind %d", spec.Kind)
}

// DecodeRet decodes a return value of the given spec. Buffer returns are
// never nil, so an empty buffer can be told apart from an error.
func DecodeRet(r io.Reader, spec action.RetSpec) (any, error) {
	v, err := decodeRet(r, spec)
	if err != nil {
		return nil, &DecodeError{What: spec.Kind.String() + " return", Err: err}
	}
	return v, nil
}

func decodeRet(r io.Reader, spec action.RetSpec) (any, error) {
	switch spec.Kind {
	case action.RetNone:
		return nil, nil
	case action.RetInt:
		return xdr.DecodeInt32(r)
	case action.RetInt64:
		return xdr.DecodeInt64(r)
	case action.RetBool:
		return xdr.DecodeBool(r)
	case action.RetString:
		return xdr.DecodeStringMax(r, maxStringLen)
	case action.RetStringList:
		return xdr.DecodeStringList(r, maxListItems, maxStringLen)
	case action.RetHashtable:
		list, err := xdr.DecodeStringList(r, maxListItems, maxStringLen)
		if err != nil {
			return nil, err
		}
		if len(list)%2 != 0 {
			return nil, fmt.Errorf("hashtable has odd number of entries (%d)", len(list))
		}
		return Hashtable(list), nil
	case action.RetStruct:
		st, err := lookupStruct(spec.Struct)
		if err != nil {
			return nil, err
		}
		return st.decode(r)
	case action.RetStructList:
		st, err := lookupStruct(spec.Struct)
		if err != nil {
			return nil, err
		}
		return st.decodeList(r)
	case action.RetBuffer:
		return xdr.DecodeOpaqueMax(r, MessageMax)
	}
	return nil, fmt.Errorf("unknown return kind %d", spec.Kind)
}
