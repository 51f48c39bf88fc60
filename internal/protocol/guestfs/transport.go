package guestfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/atomic"
)

// FrameKind classifies what was read from the socket.
type FrameKind int

const (
	// FrameMessage carries a length-prefixed body: a header plus payload,
	// or a file chunk.
	FrameMessage FrameKind = iota
	// FrameCancel is a bare CancelFlag.
	FrameCancel
	// FrameLaunch is a bare LaunchFlag.
	FrameLaunch
	// FrameProgress is ProgressFlag followed by a ProgressMessage.
	FrameProgress
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameCancel:
		return "cancel"
	case FrameLaunch:
		return "launch"
	case FrameProgress:
		return "progress"
	}
	return fmt.Sprintf("frame(%d)", int(k))
}

// Frame is one unit read from the socket.
type Frame struct {
	Kind     FrameKind
	Body     []byte
	Progress ProgressMessage
}

// frameQueueDepth bounds how far the reader can run ahead of the consumer.
// Nothing in the protocol pipelines more than a few frames, so a small
// queue keeps the peer's writes flow-controlled by the socket.
const frameQueueDepth = 4

// ErrTransportClosed is returned once Close has been called.
var ErrTransportClosed = errors.New("transport closed")

// Transport frames a connection. A single reader goroutine splits the byte
// stream into frames and queues them, so a consumer can probe for a
// pending cancellation without blocking (Poll) while it is busy writing.
//
// Writes are serialized and may be issued from any goroutine. Next and Poll
// must be called from one goroutine at a time.
type Transport struct {
	conn       io.ReadWriteCloser
	maxMessage uint32

	frames chan Frame
	done   chan struct{}
	err    atomic.Error

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewTransport starts reading conn. maxMessage caps the length of any
// message body; 0 means MessageMax.
func NewTransport(conn io.ReadWriteCloser, maxMessage uint32) *Transport {
	if maxMessage == 0 || maxMessage > MessageMax {
		maxMessage = MessageMax
	}
	t := &Transport{
		conn:       conn,
		maxMessage: maxMessage,
		frames:     make(chan Frame, frameQueueDepth),
		done:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.frames)

	var lenbuf [4]byte
	for {
		if _, err := io.ReadFull(t.conn, lenbuf[:]); err != nil {
			t.fail(err)
			return
		}

		var f Frame
		switch n := binary.BigEndian.Uint32(lenbuf[:]); n {
		case LaunchFlag:
			f.Kind = FrameLaunch
		case CancelFlag:
			f.Kind = FrameCancel
		case ProgressFlag:
			var body [ProgressMessageSize]byte
			if _, err := io.ReadFull(t.conn, body[:]); err != nil {
				t.fail(unexpectedEOF(err))
				return
			}
			f.Kind = FrameProgress
			if err := f.Progress.DecodeXDR(bytes.NewReader(body[:])); err != nil {
				t.fail(err)
				return
			}
		default:
			// An oversize length means the stream is out of sync and
			// nothing after it can be trusted.
			if n > t.maxMessage {
				t.fail(fmt.Errorf("message length (%d) > maximum possible size (%d)", n, t.maxMessage))
				return
			}
			f.Kind = FrameMessage
			f.Body = make([]byte, n)
			if _, err := io.ReadFull(t.conn, f.Body); err != nil {
				t.fail(unexpectedEOF(err))
				return
			}
		}

		select {
		case t.frames <- f:
		case <-t.done:
			return
		}
	}
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (t *Transport) fail(err error) {
	select {
	case <-t.done:
		err = ErrTransportClosed
	default:
	}
	t.err.Store(err)
}

// Err returns the error that stopped the reader, or nil while it runs.
func (t *Transport) Err() error {
	return t.err.Load()
}

func (t *Transport) closedErr() error {
	if err := t.err.Load(); err != nil {
		return err
	}
	return io.EOF
}

// Next blocks until a frame arrives, the reader stops, or ctx is done.
func (t *Transport) Next(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return Frame{}, t.closedErr()
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Poll returns a queued frame if one is ready. It never blocks. Once the
// reader has stopped, Poll reports its error.
func (t *Transport) Poll() (Frame, bool, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return Frame{}, false, t.closedErr()
		}
		return f, true, nil
	default:
		return Frame{}, false, nil
	}
}

// WriteMessage sends body prefixed with its length.
func (t *Transport) WriteMessage(body []byte) error {
	if uint32(len(body)) > t.maxMessage || IsFlag(uint32(len(body))) {
		return fmt.Errorf("message length (%d) > maximum possible size (%d)", len(body), t.maxMessage)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return t.write(out)
}

// WriteFlag sends a bare LaunchFlag or CancelFlag.
func (t *Transport) WriteFlag(flag uint32) error {
	if flag != LaunchFlag && flag != CancelFlag {
		return fmt.Errorf("0x%x is not a bare flag", flag)
	}
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], flag)
	return t.write(out[:])
}

// WriteProgress sends ProgressFlag followed by p.
func (t *Transport) WriteProgress(p ProgressMessage) error {
	var buf bytes.Buffer
	buf.Grow(4 + ProgressMessageSize)
	_ = binary.Write(&buf, binary.BigEndian, ProgressFlag)
	if err := p.EncodeXDR(&buf); err != nil {
		return err
	}
	return t.write(buf.Bytes())
}

// WriteHeader encodes h and body (already XDR-encoded) as one message.
func (t *Transport) WriteHeader(h *Header, body []byte) error {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(body))
	if err := h.EncodeXDR(&buf); err != nil {
		return err
	}
	buf.Write(body)
	return t.WriteMessage(buf.Bytes())
}

// WriteChunk sends one file chunk.
func (t *Transport) WriteChunk(c *Chunk) error {
	var buf bytes.Buffer
	buf.Grow(8 + len(c.Data) + 4)
	if err := c.EncodeXDR(&buf); err != nil {
		return err
	}
	return t.WriteMessage(buf.Bytes())
}

func (t *Transport) write(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	_, err := t.conn.Write(p)
	return err
}

// Close stops the reader and closes the connection.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (t *Transport) Done() <-chan struct{} { return t.done }
