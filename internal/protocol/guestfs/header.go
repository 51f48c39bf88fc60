package guestfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/guestfsrpc/internal/protocol/xdr"
)

// HeaderSize is the encoded size of a Header.
const HeaderSize = 6*4 + 2*8

// Header starts every call and reply body.
//
// Wire format (all big-endian):
//
//	prog(4) vers(4) direction(4) proc(4) serial(4) status(4)
//	progress_hint(8) optargs_bitmask(8)
type Header struct {
	Prog      uint32
	Vers      uint32
	Direction Direction
	Proc      uint32
	Serial    uint32
	Status    Status

	// ProgressHint is the expected size of the FileIn payload, or 0 when
	// unknown. Only meaningful on calls.
	ProgressHint uint64

	// OptArgsBitmask flags the optional arguments present in the call.
	OptArgsBitmask Bitmask
}

// NewCall returns a call header for proc with the given serial.
func NewCall(proc, serial uint32) Header {
	return Header{
		Prog:      Program,
		Vers:      ProtocolVersion,
		Direction: Call,
		Proc:      proc,
		Serial:    serial,
		Status:    StatusOK,
	}
}

// ReplyTo returns the reply header for call with the given status. The
// reply echoes the call's program, version, procedure and serial.
func ReplyTo(call Header, status Status) Header {
	return Header{
		Prog:      call.Prog,
		Vers:      call.Vers,
		Direction: Reply,
		Proc:      call.Proc,
		Serial:    call.Serial,
		Status:    status,
	}
}

// EncodeXDR implements xdr.Encoder.
func (h *Header) EncodeXDR(buf *bytes.Buffer) error {
	for _, v := range []uint32{h.Prog, h.Vers, uint32(h.Direction), h.Proc, h.Serial, uint32(h.Status)} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	if err := xdr.WriteUint64(buf, h.ProgressHint); err != nil {
		return err
	}
	return xdr.WriteUint64(buf, uint64(h.OptArgsBitmask))
}

// DecodeXDR implements xdr.Decoder.
func (h *Header) DecodeXDR(r io.Reader) error {
	var words [6]uint32
	for i := range words {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return &DecodeError{What: "header", Err: err}
		}
		words[i] = v
	}
	hint, err := xdr.DecodeUint64(r)
	if err != nil {
		return &DecodeError{What: "header progress hint", Err: err}
	}
	mask, err := xdr.DecodeUint64(r)
	if err != nil {
		return &DecodeError{What: "header optargs bitmask", Err: err}
	}

	*h = Header{
		Prog:           words[0],
		Vers:           words[1],
		Direction:      Direction(words[2]),
		Proc:           words[3],
		Serial:         words[4],
		Status:         Status(words[5]),
		ProgressHint:   hint,
		OptArgsBitmask: Bitmask(mask),
	}
	return nil
}

// CheckCall validates a header received by the daemon. The returned error
// text is sent back to the client verbatim.
func (h *Header) CheckCall() error {
	if h.Prog != Program {
		return fmt.Errorf("wrong program (%d/%d)", h.Prog, Program)
	}
	if h.Vers != ProtocolVersion {
		return fmt.Errorf("wrong protocol version (%d/%d)", h.Vers, ProtocolVersion)
	}
	if h.Direction != Call || h.Status != StatusOK {
		return fmt.Errorf("unexpected message direction (%d) or status (%d)", h.Direction, h.Status)
	}
	return nil
}

// MatchReply checks that h is a valid reply to call. Any mismatch means the
// stream is out of sync and is reported as a *MismatchError.
func (h *Header) MatchReply(call Header) error {
	switch {
	case h.Prog != call.Prog:
		return &MismatchError{Field: "program", Got: h.Prog, Want: call.Prog}
	case h.Vers != call.Vers:
		return &MismatchError{Field: "protocol version", Got: h.Vers, Want: call.Vers}
	case h.Direction != Reply:
		return &MismatchError{Field: "direction", Got: uint32(h.Direction), Want: uint32(Reply)}
	case h.Proc != call.Proc:
		return &MismatchError{Field: "procedure", Got: h.Proc, Want: call.Proc}
	case h.Serial != call.Serial:
		return &MismatchError{Field: "serial", Got: h.Serial, Want: call.Serial}
	case h.Status != StatusOK && h.Status != StatusError:
		return &MismatchError{Field: "status", Got: uint32(h.Status), Want: uint32(StatusError)}
	}
	return nil
}

// SplitHeader decodes the header at the start of a message body and
// returns a reader positioned at the payload.
func SplitHeader(body []byte) (Header, *bytes.Reader, error) {
	r := bytes.NewReader(body)
	var h Header
	if err := h.DecodeXDR(r); err != nil {
		return Header{}, nil, err
	}
	return h, r, nil
}
