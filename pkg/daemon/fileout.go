package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

var (
	errNotBegun = errors.New("file output written before Begin")
	errEnded    = errors.New("file output already ended")
)

// FileOut is the download stream of a FileOut action.
//
// The implementation validates its arguments and opens its source, then
// calls Begin, which sends the success reply. From then on errors can no
// longer be reported to the client; the only way to signal failure is
// End(true), which ends the stream with a cancel chunk. Writes are split
// into chunks of at most guestfs.MaxChunkSize bytes. Before each chunk the
// connection is polled for a client cancel flag; once one arrived Write
// ends the stream and returns ErrCancelled.
type FileOut struct {
	conn   *Conn
	ctx    context.Context
	action string
	hdr    guestfs.Header

	sup    *progress.Supervisor
	token  *progress.CancelToken
	notify *progress.Notifier

	total   uint64
	sent    uint64
	begun   bool
	ended   bool
	settled bool
}

func newFileOut(ctx context.Context, c *Conn, req *Request, notify *progress.Notifier) *FileOut {
	token := progress.NewCancelToken()
	return &FileOut{
		conn:   c,
		ctx:    ctx,
		action: req.Action.Name,
		hdr:    req.Header,
		sup:    progress.NewSupervisor(token, c.srv.config.QueueDepth),
		token:  token,
		notify: notify,
	}
}

// Begin sends the success reply that precedes the chunks. total is the
// expected size, used for progress messages; 0 if unknown.
func (f *FileOut) Begin(total uint64) error {
	if f.begun {
		return nil
	}
	f.begun = true
	f.total = total
	_ = f.sup.Announce(total)

	reply := guestfs.ReplyTo(f.hdr, guestfs.StatusOK)
	if err := f.conn.t.WriteHeader(&reply, nil); err != nil {
		return f.broken(err)
	}
	return nil
}

// Begun reports whether the reply has been sent.
func (f *FileOut) Begun() bool { return f.begun }

// Sent returns the number of payload bytes sent.
func (f *FileOut) Sent() uint64 { return f.sent }

// Write implements io.Writer.
func (f *FileOut) Write(p []byte) (int, error) {
	if !f.begun {
		return 0, errNotBegun
	}
	if f.ended {
		if f.sup.State() == progress.Cancelled {
			return 0, ErrCancelled
		}
		return 0, errEnded
	}

	var n int
	for len(p) > 0 {
		size := min(len(p), guestfs.MaxChunkSize)
		if err := f.sendChunk(p[:size]); err != nil {
			return n, err
		}
		n += size
		p = p[size:]
	}
	return n, nil
}

func (f *FileOut) sendChunk(data []byte) error {
	if err := f.pollCancel(); err != nil {
		return err
	}

	if _, ok := f.sup.Chunk(len(data)); !ok {
		f.ended = true
		f.settle()
		f.conn.srv.metrics.recordCancellation(f.action, "client")
		logger.DebugCtx(f.ctx, "Download cancelled by client", logger.KeyBytes, f.sent)
		if err := f.conn.t.WriteChunk(&guestfs.Chunk{Cancel: true}); err != nil {
			return f.broken(err)
		}
		return ErrCancelled
	}

	if err := f.conn.t.WriteChunk(&guestfs.Chunk{Data: data}); err != nil {
		return f.broken(err)
	}
	f.sent += uint64(len(data))
	f.conn.srv.metrics.recordBytes(f.action, metrics.DirectionOut, uint64(len(data)))
	if err := f.flush(); err != nil {
		return f.broken(err)
	}
	return nil
}

// flush hands queued chunk events to the notifier.
func (f *FileOut) flush() error {
	return f.sup.Drain(func(ev progress.Event) error {
		if ev.Kind != progress.EventProgress {
			return nil
		}
		return f.notify.Notify(ev.Position, ev.Total)
	})
}

// settle records the events the queue had to drop, once per download.
func (f *FileOut) settle() {
	if f.settled {
		return
	}
	f.settled = true
	f.conn.srv.metrics.progressDropped(f.action, f.sup.Dropped())
}

// pollCancel consumes whatever the client sent since the last chunk
// without blocking. Only cancel flags are legal while a download runs.
func (f *FileOut) pollCancel() error {
	for {
		fr, ok, err := f.conn.t.Poll()
		if err != nil {
			return f.broken(err)
		}
		if !ok {
			return nil
		}
		if fr.Kind != guestfs.FrameCancel {
			return f.broken(fmt.Errorf("unexpected %s from client during download", fr.Kind))
		}
		f.token.Cancel()
	}
}

// End terminates the stream: with the end marker, or with a cancel chunk
// when cancel is true. It is a no-op once the stream has ended.
func (f *FileOut) End(cancel bool) error {
	if !f.begun {
		return errNotBegun
	}
	if f.ended {
		return nil
	}
	f.ended = true

	if cancel {
		_ = f.sup.Fail(errors.New("download aborted by daemon"))
	} else {
		_ = f.sup.Complete()
		if err := f.notify.Finish(f.total); err != nil {
			return f.broken(err)
		}
	}
	f.settle()
	if err := f.conn.t.WriteChunk(&guestfs.Chunk{Cancel: cancel}); err != nil {
		return f.broken(err)
	}
	return nil
}

func (f *FileOut) broken(err error) error {
	f.ended = true
	_ = f.sup.Fail(err)
	f.settle()
	return f.conn.breakConn(err)
}
