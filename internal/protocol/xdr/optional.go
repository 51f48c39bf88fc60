package xdr

import (
	"bytes"
	"fmt"
	"io"
)

// ============================================================================
// XDR Optional-Data Helpers
// ============================================================================

// WriteOptionalString encodes an XDR optional string (RFC 4506 Section 4.19):
// a boolean "present" flag followed by the string when present. A nil s is
// encoded as absent, which keeps null pointers off the wire.
func WriteOptionalString(buf *bytes.Buffer, s *string) error {
	if err := WriteBool(buf, s != nil); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return WriteXDRString(buf, *s)
}

// DecodeOptionalString decodes an XDR optional string of at most max bytes.
// Absent decodes to nil.
func DecodeOptionalString(r io.Reader, max uint32) (*string, error) {
	present, err := DecodeBool(r)
	if err != nil {
		return nil, fmt.Errorf("read optional flag: %w", err)
	}
	if !present {
		return nil, nil
	}
	s, err := DecodeStringMax(r, max)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
