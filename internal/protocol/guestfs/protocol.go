// Package guestfs implements the guestfs daemon wire protocol: message
// framing, the call/reply header, error and chunk bodies, progress
// messages, and the argument and return value codec driven by action
// descriptors.
//
// Every message on the socket is a big-endian uint32 length followed by an
// XDR body. Three length values are reserved as flags that carry no body
// (LaunchFlag, CancelFlag) or a fixed 24-byte body (ProgressFlag).
//
// A call body is:
//
//	[Header][arguments...]
//
// A reply body is:
//
//	[Header][return value]   status OK
//	[Header][ErrorBody]      status Error
//
// File payloads follow the call (FileIn) or the reply (FileOut) as a
// sequence of messages whose body is a Chunk. A zero-length chunk ends the
// stream; a chunk with Cancel set aborts it.
package guestfs

import "fmt"

const (
	// Program is the program identifier carried in every header.
	Program uint32 = 0x2000F5F5

	// ProtocolVersion is the protocol version carried in every header.
	ProtocolVersion uint32 = 4

	// LaunchFlag is sent once by the daemon when it is ready for calls.
	LaunchFlag uint32 = 0xf5f55ff5

	// CancelFlag may be sent by either side in place of a message length
	// to ask the peer to cancel the file transfer in progress.
	CancelFlag uint32 = 0xffffeeee

	// ProgressFlag precedes a ProgressMessage sent by the daemon.
	ProgressFlag uint32 = 0xffff5555

	// MessageMax is the largest message body the protocol allows.
	MessageMax uint32 = 4 * 1024 * 1024

	// MaxChunkSize is the largest data payload of one file chunk.
	MaxChunkSize = 8192

	// ErrorLen is the maximum length of an error message.
	ErrorLen = 256

	// ErrnoLen is the maximum length of an errno name ("EOPNOTSUPP").
	ErrnoLen = 20

	// ProgressMessageSize is the encoded size of a ProgressMessage.
	ProgressMessageSize = 24
)

// Direction distinguishes calls from replies.
type Direction uint32

const (
	Call  Direction = 0
	Reply Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Call:
		return "call"
	case Reply:
		return "reply"
	}
	return fmt.Sprintf("direction(%d)", uint32(d))
}

// Status is the outcome recorded in a reply header.
type Status uint32

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// IsFlag reports whether a length word is one of the reserved flags.
func IsFlag(length uint32) bool {
	return length == LaunchFlag || length == CancelFlag || length == ProgressFlag
}
