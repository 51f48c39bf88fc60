// Package xdr provides the XDR (External Data Representation, RFC 4506)
// primitives used by the guestfs wire protocol.
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Decoders are bounded: every variable-length item is checked against a
// caller-supplied maximum and, when the reader can report how many bytes it
// still holds (bytes.Reader, bytes.Buffer), against the remaining input
// before any allocation. A malformed length can therefore never cause a read
// past the supplied byte range or an oversized allocation.
//
// This package has no dependencies on other guestfsrpc packages.
package xdr

import (
	"bytes"
	"errors"
	"io"
)

// Encoder is implemented by types that encode themselves to XDR.
type Encoder interface {
	EncodeXDR(buf *bytes.Buffer) error
}

// Decoder is implemented by types that decode themselves from XDR.
type Decoder interface {
	DecodeXDR(r io.Reader) error
}

// ErrTooLong is returned when a length prefix exceeds the allowed maximum.
var ErrTooLong = errors.New("xdr: length exceeds maximum")

// lener is implemented by readers that know how much input is left.
type lener interface {
	Len() int
}

// Pad returns the number of zero bytes that follow n bytes of data.
func Pad(n uint32) uint32 {
	return (4 - (n % 4)) % 4
}
