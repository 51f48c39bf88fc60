package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ============================================================================
// XDR Encoding Helpers - Go Types → Wire Format
// ============================================================================

// WriteXDROpaque encodes opaque data in XDR format: length + data + padding.
//
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data):
// Format: [length:uint32][data:bytes][padding:bytes]
//
// Example:
//
//	[]byte{0x01, 0x02, 0x03} → [00 00 00 03][01 02 03][00] (8 bytes total)
func WriteXDROpaque(buf *bytes.Buffer, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("opaque length %d: %w", len(data), ErrTooLong)
	}
	length := uint32(len(data))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write opaque length: %w", err)
	}
	buf.Write(data)
	return WriteXDRPadding(buf, length)
}

// WriteXDRString encodes a string in XDR format: length + data + padding.
//
// Example:
//
//	"abc" (3 bytes) → [00 00 00 03][61 62 63][00] (8 bytes total)
//	"test" (4 bytes) → [00 00 00 04][74 65 73 74] (8 bytes total)
func WriteXDRString(buf *bytes.Buffer, s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("string length %d: %w", len(s), ErrTooLong)
	}
	length := uint32(len(s))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}
	buf.WriteString(s)
	return WriteXDRPadding(buf, length)
}

// WriteXDRStringMax is WriteXDRString with an upper bound, for fields
// declared as string<max> in the protocol.
func WriteXDRStringMax(buf *bytes.Buffer, s string, max uint32) error {
	if uint64(len(s)) > uint64(max) {
		return fmt.Errorf("string length %d: %w (%d)", len(s), ErrTooLong, max)
	}
	return WriteXDRString(buf, s)
}

// WriteStringList encodes a counted array of strings.
//
// Format: [count:uint32] then each string.
func WriteStringList(buf *bytes.Buffer, list []string) error {
	if err := WriteUint32(buf, uint32(len(list))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, s := range list {
		if err := WriteXDRString(buf, s); err != nil {
			return fmt.Errorf("string list item %d: %w", i, err)
		}
	}
	return nil
}

// WriteXDRPadding writes the zero bytes that align dataLen to 4 bytes.
//
// Example:
//
//	dataLen=3 → writes 1 padding byte
//	dataLen=4 → writes 0 padding bytes
//	dataLen=5 → writes 3 padding bytes
func WriteXDRPadding(buf *bytes.Buffer, dataLen uint32) error {
	var zero [3]byte
	buf.Write(zero[:Pad(dataLen)])
	return nil
}

// WriteUint32 encodes a big-endian 32-bit unsigned integer.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteUint64 encodes a big-endian 64-bit unsigned integer (XDR hyper).
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
	return nil
}

// WriteInt32 encodes a two's complement 32-bit integer.
func WriteInt32(buf *bytes.Buffer, v int32) error {
	return WriteUint32(buf, uint32(v))
}

// WriteInt64 encodes a two's complement 64-bit integer.
func WriteInt64(buf *bytes.Buffer, v int64) error {
	return WriteUint64(buf, uint64(v))
}

// WriteBool encodes a boolean as uint32 0 or 1.
func WriteBool(buf *bytes.Buffer, v bool) error {
	var val uint32
	if v {
		val = 1
	}
	return WriteUint32(buf, val)
}
