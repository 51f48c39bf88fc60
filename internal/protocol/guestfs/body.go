package guestfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/guestfsrpc/internal/protocol/xdr"
)

// ============================================================================
// Error Body
// ============================================================================

// ErrorBody follows a reply header whose status is StatusError.
//
// Wire format:
//
//	errno_string  string<ErrnoLen>   empty when there is no errno
//	error_message string<ErrorLen>
type ErrorBody struct {
	Errno   string
	Message string
}

// NewErrorBody builds an error body, truncating the message to ErrorLen
// bytes the way the daemon always has. An empty message is replaced so the
// client never shows a blank error.
func NewErrorBody(errno, msg string) ErrorBody {
	if msg == "" {
		msg = "unknown error"
	}
	if len(msg) > ErrorLen {
		msg = msg[:ErrorLen]
	}
	if len(errno) > ErrnoLen {
		errno = ""
	}
	return ErrorBody{Errno: errno, Message: msg}
}

// EncodeXDR implements xdr.Encoder.
func (e *ErrorBody) EncodeXDR(buf *bytes.Buffer) error {
	if err := xdr.WriteXDRStringMax(buf, e.Errno, ErrnoLen); err != nil {
		return fmt.Errorf("errno string: %w", err)
	}
	if err := xdr.WriteXDRStringMax(buf, e.Message, ErrorLen); err != nil {
		return fmt.Errorf("error message: %w", err)
	}
	return nil
}

// DecodeXDR implements xdr.Decoder.
func (e *ErrorBody) DecodeXDR(r io.Reader) error {
	errno, err := xdr.DecodeStringMax(r, ErrnoLen)
	if err != nil {
		return &DecodeError{What: "error errno", Err: err}
	}
	msg, err := xdr.DecodeStringMax(r, ErrorLen)
	if err != nil {
		return &DecodeError{What: "error message", Err: err}
	}
	e.Errno, e.Message = errno, msg
	return nil
}

// ============================================================================
// File Chunk
// ============================================================================

// Chunk is the body of one file transfer message.
//
// Wire format:
//
//	cancel int32            1 aborts the transfer
//	data   opaque<MaxChunkSize>
//
// Data of length zero with Cancel unset marks the end of the file.
type Chunk struct {
	Cancel bool
	Data   []byte
}

// IsEnd reports whether the chunk terminates the stream, either normally or
// by cancellation.
func (c *Chunk) IsEnd() bool {
	return c.Cancel || len(c.Data) == 0
}

// EncodeXDR implements xdr.Encoder.
func (c *Chunk) EncodeXDR(buf *bytes.Buffer) error {
	if len(c.Data) > MaxChunkSize {
		return fmt.Errorf("chunk of %d bytes: %w (%d)", len(c.Data), xdr.ErrTooLong, MaxChunkSize)
	}
	var cancel int32
	if c.Cancel {
		cancel = 1
	}
	if err := xdr.WriteInt32(buf, cancel); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, c.Data)
}

// DecodeXDR implements xdr.Decoder.
func (c *Chunk) DecodeXDR(r io.Reader) error {
	cancel, err := xdr.DecodeInt32(r)
	if err != nil {
		return &DecodeError{What: "chunk", Err: err}
	}
	data, err := xdr.DecodeOpaqueMax(r, MaxChunkSize)
	if err != nil {
		return &DecodeError{What: "chunk data", Err: err}
	}
	c.Cancel = cancel != 0
	c.Data = data
	return nil
}

// ============================================================================
// Progress Message
// ============================================================================

// ProgressMessage is sent by the daemon after ProgressFlag while a long
// running call is executing. Serial matches the call it reports on.
//
// Wire format (24 bytes):
//
//	proc(4) serial(4) position(8) total(8)
type ProgressMessage struct {
	Proc     uint32
	Serial   uint32
	Position uint64
	Total    uint64
}

// EncodeXDR implements xdr.Encoder.
func (p *ProgressMessage) EncodeXDR(buf *bytes.Buffer) error {
	_ = xdr.WriteUint32(buf, p.Proc)
	_ = xdr.WriteUint32(buf, p.Serial)
	_ = xdr.WriteUint64(buf, p.Position)
	return xdr.WriteUint64(buf, p.Total)
}

// DecodeXDR implements xdr.Decoder.
func (p *ProgressMessage) DecodeXDR(r io.Reader) error {
	var err error
	if p.Proc, err = xdr.DecodeUint32(r); err != nil {
		return &DecodeError{What: "progress", Err: err}
	}
	if p.Serial, err = xdr.DecodeUint32(r); err != nil {
		return &DecodeError{What: "progress", Err: err}
	}
	if p.Position, err = xdr.DecodeUint64(r); err != nil {
		return &DecodeError{What: "progress", Err: err}
	}
	if p.Total, err = xdr.DecodeUint64(r); err != nil {
		return &DecodeError{What: "progress", Err: err}
	}
	return nil
}
