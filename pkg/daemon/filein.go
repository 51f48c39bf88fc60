package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// errDaemonCancelled is returned by Read after CancelReceive.
var errDaemonCancelled = errors.New("upload cancelled by daemon")

// FileIn is the upload stream of a FileIn action. It reads the chunks the
// client sends after the call message and ends with io.EOF at the end
// marker, or with ErrCancelled if the client cancelled.
//
// The stream must be consumed to its end before the reply is sent: an
// implementation that fails early calls CancelReceive, and the dispatcher
// drains whatever is left after the implementation returns.
type FileIn struct {
	conn   *Conn
	ctx    context.Context
	action string
	hint   uint64

	sup    *progress.Supervisor
	notify *progress.Notifier

	pending  []byte
	done     bool
	draining bool
	settled  bool
	err      error
	received uint64
}

func newFileIn(ctx context.Context, c *Conn, req *Request, notify *progress.Notifier) *FileIn {
	f := &FileIn{
		conn:   c,
		ctx:    ctx,
		action: req.Action.Name,
		hint:   req.Header.ProgressHint,
		sup:    progress.NewSupervisor(nil, c.srv.config.QueueDepth),
		notify: notify,
	}
	_ = f.sup.Announce(f.hint)
	return f
}

// Hint returns the size the client announced, 0 if unknown.
func (f *FileIn) Hint() uint64 { return f.hint }

// Received returns the number of payload bytes read so far.
func (f *FileIn) Received() uint64 { return f.received }

// Read implements io.Reader.
func (f *FileIn) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		f.err = f.next()
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

// next receives one chunk into f.pending. It returns io.EOF at the end
// marker, ErrCancelled on a client cancel chunk and a connection error on
// anything that breaks framing.
func (f *FileIn) next() error {
	if f.done {
		return io.EOF
	}
	for {
		fr, err := f.conn.t.Next(f.ctx)
		if err != nil {
			return f.broken(err)
		}
		switch fr.Kind {
		case guestfs.FrameCancel:
			// Stray cancel from a previous call; the chunk stream is
			// still ahead of us.
			continue
		case guestfs.FrameMessage:
		default:
			return f.broken(fmt.Errorf("unexpected %s while receiving file chunks", fr.Kind))
		}

		var chunk guestfs.Chunk
		if err := chunk.DecodeXDR(bytes.NewReader(fr.Body)); err != nil {
			return f.broken(err)
		}
		f.sup.Chunk(len(chunk.Data))

		switch {
		case chunk.Cancel:
			f.done = true
			_ = f.sup.Cancel()
			f.settle()
			if !f.draining {
				f.conn.srv.metrics.recordCancellation(f.action, "client")
				logger.DebugCtx(f.ctx, "Upload cancelled by client", logger.KeyBytes, f.received)
			}
			return ErrCancelled
		case len(chunk.Data) == 0:
			f.done = true
			err := f.flush()
			_ = f.sup.Complete()
			f.settle()
			if err != nil {
				return f.conn.breakConn(err)
			}
			return io.EOF
		}

		f.received += uint64(len(chunk.Data))
		f.conn.srv.metrics.recordBytes(f.action, metrics.DirectionIn, uint64(len(chunk.Data)))
		if err := f.flush(); err != nil {
			return f.broken(err)
		}
		if f.draining {
			continue
		}
		f.pending = chunk.Data
		return nil
	}
}

// CancelReceive aborts the upload from the daemon side: it sends a cancel
// flag and discards chunks until the client ends the stream. It is safe to
// call after the stream ended, in which case it does nothing.
func (f *FileIn) CancelReceive() error {
	if f.done {
		return nil
	}
	if err := f.conn.t.WriteFlag(guestfs.CancelFlag); err != nil {
		return f.broken(err)
	}
	f.conn.srv.metrics.recordCancellation(f.action, "daemon")

	f.draining = true
	f.pending = nil
	for {
		err := f.next()
		if err == io.EOF || err == ErrCancelled {
			break
		}
		if err != nil {
			return err
		}
	}
	f.err = errDaemonCancelled
	return nil
}

// Cancelled reports whether the client ended the stream with a cancel
// chunk.
func (f *FileIn) Cancelled() bool {
	return f.sup.State() == progress.Cancelled && !f.draining
}

// flush hands queued chunk events to the notifier. Uploads without a size
// hint and uploads being discarded report nothing.
func (f *FileIn) flush() error {
	return f.sup.Drain(func(ev progress.Event) error {
		if ev.Kind != progress.EventProgress || ev.Total == 0 || f.draining {
			return nil
		}
		return f.notify.Notify(ev.Position, ev.Total)
	})
}

// settle records the events the queue had to drop, once per upload.
func (f *FileIn) settle() {
	if f.settled {
		return
	}
	f.settled = true
	f.conn.srv.metrics.progressDropped(f.action, f.sup.Dropped())
}

func (f *FileIn) broken(err error) error {
	f.done = true
	_ = f.sup.Fail(err)
	f.settle()
	return f.conn.breakConn(err)
}
