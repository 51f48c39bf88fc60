package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ============================================================================
// XDR Decoding Helpers - Wire Format → Go Types
// ============================================================================

// MaxOpaque is the default limit applied by DecodeOpaque and DecodeString.
const MaxOpaque = 4 * 1024 * 1024

func readFull(r io.Reader, p []byte) error {
	if _, err := io.ReadFull(r, p); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// DecodeOpaque decodes XDR variable-length opaque data limited to MaxOpaque.
//
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data):
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
func DecodeOpaque(r io.Reader) ([]byte, error) {
	return DecodeOpaqueMax(r, MaxOpaque)
}

// DecodeOpaqueMax decodes variable-length opaque data of at most max bytes.
//
// The returned slice is never nil: a zero-length item decodes to []byte{}.
//
// Returns:
//   - []byte: Decoded data
//   - error: ErrTooLong for an oversized prefix, io.ErrUnexpectedEOF when the
//     input ends early
func DecodeOpaqueMax(r io.Reader, max uint32) ([]byte, error) {
	length, err := DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if length > max {
		return nil, fmt.Errorf("opaque length %d: %w (%d)", length, ErrTooLong, max)
	}
	padding := Pad(length)
	if l, ok := r.(lener); ok && uint64(l.Len()) < uint64(length)+uint64(padding) {
		return nil, fmt.Errorf("opaque length %d with %d bytes left: %w", length, l.Len(), io.ErrUnexpectedEOF)
	}

	data := make([]byte, length)
	if err := readFull(r, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if padding > 0 {
		var padBuf [3]byte
		if err := readFull(r, padBuf[:padding]); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}
	return data, nil
}

// DecodeString decodes an XDR string limited to MaxOpaque bytes.
//
// Per RFC 4506 Section 4.11 (String): same encoding as opaque data.
func DecodeString(r io.Reader) (string, error) {
	return DecodeStringMax(r, MaxOpaque)
}

// DecodeStringMax decodes an XDR string of at most max bytes.
func DecodeStringMax(r io.Reader, max uint32) (string, error) {
	data, err := DecodeOpaqueMax(r, max)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeStringList decodes a counted array of strings.
//
// Format: [count:uint32] then count strings. The count is checked against
// maxItems and, when possible, against the remaining input (each string
// needs at least 4 bytes).
func DecodeStringList(r io.Reader, maxItems, maxLen uint32) ([]string, error) {
	n, err := DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if n > maxItems {
		return nil, fmt.Errorf("string list count %d: %w (%d)", n, ErrTooLong, maxItems)
	}
	if l, ok := r.(lener); ok && uint64(l.Len()) < uint64(n)*4 {
		return nil, fmt.Errorf("string list count %d with %d bytes left: %w", n, l.Len(), io.ErrUnexpectedEOF)
	}

	out := make([]string, n)
	for i := range out {
		if out[i], err = DecodeStringMax(r, maxLen); err != nil {
			return nil, fmt.Errorf("string list item %d: %w", i, err)
		}
	}
	return out, nil
}

// DecodeUint32 decodes a big-endian 32-bit unsigned integer.
func DecodeUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeUint64 decodes a big-endian 64-bit unsigned integer (XDR hyper).
func DecodeUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read uint64: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// DecodeInt32 decodes a two's complement 32-bit integer.
func DecodeInt32(r io.Reader) (int32, error) {
	v, err := DecodeUint32(r)
	return int32(v), err
}

// DecodeInt64 decodes a two's complement 64-bit integer.
func DecodeInt64(r io.Reader) (int64, error) {
	v, err := DecodeUint64(r)
	return int64(v), err
}

// DecodeBool decodes an XDR boolean.
//
// Per RFC 4506 Section 4.4 only 0 and 1 are valid; anything else is an error
// so that a corrupted stream is noticed early.
func DecodeBool(r io.Reader) (bool, error) {
	v, err := DecodeUint32(r)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean value %d", v)
}
