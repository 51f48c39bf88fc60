package guestfs

import (
	"bytes"
	"fmt"
	"io"

	xdrlib "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/guestfsrpc/internal/protocol/xdr"
	"github.com/marmos91/guestfsrpc/pkg/action"
)

// ============================================================================
// Fixed-Layout Structs
// ============================================================================
//
// Each struct declares its wire layout through its field order and widths.
// All-integer structs are marshalled by reflection (go-xdr walks fields in
// declaration order, int64 as XDR hyper). Structs with variable-length
// fields are coded by hand so every length goes through the bounded
// decoders.

// Struct is a fixed-layout struct that can appear in a return value.
type Struct interface {
	xdr.Encoder
	xdr.Decoder
}

// Stat is the result of stat and lstat. Times are seconds since the epoch.
type Stat struct {
	Dev     int64
	Ino     int64
	Mode    int64
	Nlink   int64
	UID     int64
	GID     int64
	Rdev    int64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// EncodeXDR implements xdr.Encoder.
func (s *Stat) EncodeXDR(buf *bytes.Buffer) error {
	_, err := xdrlib.Marshal(buf, s)
	return err
}

// DecodeXDR implements xdr.Decoder.
func (s *Stat) DecodeXDR(r io.Reader) error {
	_, err := xdrlib.Unmarshal(r, s)
	return err
}

// StatVFS is the result of statvfs.
type StatVFS struct {
	Bsize   int64
	Frsize  int64
	Blocks  int64
	Bfree   int64
	Bavail  int64
	Files   int64
	Ffree   int64
	Favail  int64
	Fsid    int64
	Flag    int64
	Namemax int64
}

// EncodeXDR implements xdr.Encoder.
func (s *StatVFS) EncodeXDR(buf *bytes.Buffer) error {
	_, err := xdrlib.Marshal(buf, s)
	return err
}

// DecodeXDR implements xdr.Decoder.
func (s *StatVFS) DecodeXDR(r io.Reader) error {
	_, err := xdrlib.Unmarshal(r, s)
	return err
}

// Dirent is one entry returned by readdir.
//
// Ftyp is one of 'b' (block device), 'c' (char device), 'd' (directory),
// 'f' (FIFO), 'l' (symlink), 'r' (regular file), 's' (socket), 'u'
// (unknown) or '?' (could not be determined). It is an XDR int on the wire.
type Dirent struct {
	Ino  int64
	Ftyp byte
	Name string
}

// EncodeXDR implements xdr.Encoder.
func (d *Dirent) EncodeXDR(buf *bytes.Buffer) error {
	_ = xdr.WriteInt64(buf, d.Ino)
	_ = xdr.WriteInt32(buf, int32(d.Ftyp))
	return xdr.WriteXDRString(buf, d.Name)
}

// DecodeXDR implements xdr.Decoder.
func (d *Dirent) DecodeXDR(r io.Reader) error {
	ino, err := xdr.DecodeInt64(r)
	if err != nil {
		return err
	}
	ftyp, err := xdr.DecodeInt32(r)
	if err != nil {
		return err
	}
	if ftyp < 0 || ftyp > 0xff {
		return fmt.Errorf("invalid file type %d", ftyp)
	}
	name, err := xdr.DecodeStringMax(r, MessageMax)
	if err != nil {
		return err
	}
	*d = Dirent{Ino: ino, Ftyp: byte(ftyp), Name: name}
	return nil
}

// Version is the result of version.
type Version struct {
	Major   int64
	Minor   int64
	Release int64
	Extra   string
}

// EncodeXDR implements xdr.Encoder.
func (v *Version) EncodeXDR(buf *bytes.Buffer) error {
	_ = xdr.WriteInt64(buf, v.Major)
	_ = xdr.WriteInt64(buf, v.Minor)
	_ = xdr.WriteInt64(buf, v.Release)
	return xdr.WriteXDRString(buf, v.Extra)
}

// DecodeXDR implements xdr.Decoder.
func (v *Version) DecodeXDR(r io.Reader) error {
	var err error
	if v.Major, err = xdr.DecodeInt64(r); err != nil {
		return err
	}
	if v.Minor, err = xdr.DecodeInt64(r); err != nil {
		return err
	}
	if v.Release, err = xdr.DecodeInt64(r); err != nil {
		return err
	}
	v.Extra, err = xdr.DecodeStringMax(r, MessageMax)
	return err
}

// ============================================================================
// Struct Registry
// ============================================================================

// structType knows how to code one struct and lists of it.
type structType struct {
	// minSize is the smallest encoding of one element, used to reject
	// list counts that cannot fit in the remaining input.
	minSize    int
	encode     func(buf *bytes.Buffer, v any) error
	decode     func(r io.Reader) (any, error)
	encodeList func(buf *bytes.Buffer, v any) error
	decodeList func(r io.Reader) (any, error)
}

var structTypes = map[string]structType{
	action.StructStat:    structCodec[Stat](13 * 8),
	action.StructStatVFS: structCodec[StatVFS](11 * 8),
	action.StructDirent:  structCodec[Dirent](8 + 4 + 4),
	action.StructVersion: structCodec[Version](3*8 + 4),
}

// lookupStruct returns the codec for a struct name from an action.RetSpec.
func lookupStruct(name string) (structType, error) {
	st, ok := structTypes[name]
	if !ok {
		return structType{}, fmt.Errorf("unknown struct type %q", name)
	}
	return st, nil
}

// KnownStruct reports whether the codec can handle the named struct.
func KnownStruct(name string) bool {
	_, ok := structTypes[name]
	return ok
}

// structCodec builds the registry entry for T. Single structs decode to *T
// and lists to []T; both T and *T are accepted for encoding.
func structCodec[T any, PT interface {
	*T
	Struct
}](minSize int) structType {
	asPtr := func(v any) (PT, error) {
		switch s := v.(type) {
		case PT:
			if s == nil {
				return nil, fmt.Errorf("nil %T", v)
			}
			return s, nil
		case T:
			return PT(&s), nil
		}
		var zero T
		return nil, fmt.Errorf("got %T, want %T", v, zero)
	}

	return structType{
		minSize: minSize,
		encode: func(buf *bytes.Buffer, v any) error {
			p, err := asPtr(v)
			if err != nil {
				return err
			}
			return p.EncodeXDR(buf)
		},
		decode: func(r io.Reader) (any, error) {
			p := PT(new(T))
			if err := p.DecodeXDR(r); err != nil {
				return nil, err
			}
			return p, nil
		},
		encodeList: func(buf *bytes.Buffer, v any) error {
			list, ok := v.([]T)
			if !ok {
				var zero T
				return fmt.Errorf("got %T, want []%T", v, zero)
			}
			_ = xdr.WriteUint32(buf, uint32(len(list)))
			for i := range list {
				if err := PT(&list[i]).EncodeXDR(buf); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
			return nil
		},
		decodeList: func(r io.Reader) (any, error) {
			n, err := xdr.DecodeUint32(r)
			if err != nil {
				return nil, err
			}
			if l, ok := r.(interface{ Len() int }); ok && uint64(n)*uint64(minSize) > uint64(l.Len()) {
				return nil, fmt.Errorf("list of %d items with %d bytes left: %w", n, l.Len(), io.ErrUnexpectedEOF)
			}
			if uint64(n)*uint64(minSize) > uint64(MessageMax) {
				return nil, fmt.Errorf("list of %d items: %w", n, xdr.ErrTooLong)
			}
			list := make([]T, n)
			for i := range list {
				if err := PT(&list[i]).DecodeXDR(r); err != nil {
					return nil, fmt.Errorf("item %d: %w", i, err)
				}
			}
			return list, nil
		},
	}
}
