package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/action"
	"github.com/marmos91/guestfsrpc/pkg/bufpool"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// Request is one call.
//
// Args holds one value per wire argument, i.e. every required argument
// except FileIn and FileOut. OptArgs is aligned with Action.OptArgs; nil
// means absent and trailing absent entries may be omitted.
type Request struct {
	Action  *action.Descriptor
	Args    []any
	OptArgs []any

	// FileIn is the upload source of a FileIn action. FileInSize is sent
	// as the progress hint; when 0 the size of a regular *os.File is used.
	FileIn     io.Reader
	FileInSize int64

	// FileOut receives the download of a FileOut action.
	FileOut io.Writer

	// Cancel stops an upload or download at the next chunk boundary.
	// Cancelling ctx has the same effect.
	Cancel *progress.CancelToken
}

// Call performs one call and returns its decoded result. Calls on a
// session are serialized.
func (s *Session) Call(ctx context.Context, req Request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ret, err := s.call(ctx, req)
	if s.trace.Load() && req.Action != nil {
		s.logTrace(req, ret, err, time.Since(start))
	}
	return ret, err
}

func (s *Session) call(ctx context.Context, req Request) (any, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	d := req.Action
	if d == nil {
		return nil, invalid("", "nil action")
	}
	if err := s.checkState(req); err != nil {
		return nil, err
	}

	var args bytes.Buffer
	mask, err := guestfs.EncodeArgs(&args, d, req.Args, req.OptArgs)
	if err != nil {
		return nil, argError(d.Name, err)
	}
	if size := guestfs.HeaderSize + args.Len(); size > int(s.maxMessage) {
		return nil, invalid(d.Name, "message length (%d) > maximum possible size (%d)", size, s.maxMessage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.discardStray(d.Name); err != nil {
		return nil, err
	}

	hdr := guestfs.NewCall(d.ProcNr, s.serial.Inc())
	hdr.OptArgsBitmask = mask
	if d.HasFileIn() {
		hdr.ProgressHint = uploadHint(req)
	}
	if err := s.t.WriteHeader(&hdr, args.Bytes()); err != nil {
		return nil, s.fail(fmt.Errorf("%s: send call: %w", d.Name, err))
	}

	var uploadErr error
	if d.HasFileIn() {
		if uploadErr = s.sendFile(ctx, d.Name, req, hdr); s.poison.Load() != nil {
			return nil, uploadErr
		}
	}

	reply, body, err := s.recvReply(d.Name, hdr)
	if err != nil {
		return nil, err
	}
	if reply.Status == guestfs.StatusError {
		rerr, err := s.remoteError(d, body)
		if err != nil {
			return nil, err
		}
		if uploadErr != nil {
			return nil, uploadErr
		}
		return nil, rerr
	}
	if uploadErr != nil {
		return nil, uploadErr
	}

	if d.HasFileOut() {
		if body.Len() != 0 {
			return nil, s.fail(&ProtocolError{Action: d.Name, Err: fmt.Errorf("%d unexpected bytes after download reply", body.Len())})
		}
		return nil, s.recvFile(ctx, d, req, hdr)
	}

	ret, err := guestfs.DecodeRet(body, d.Ret)
	if err != nil {
		return nil, s.fail(&ProtocolError{Action: d.Name, Err: err})
	}
	return ret, nil
}

// checkState performs the checks that need no encoding.
func (s *Session) checkState(req Request) error {
	d := req.Action
	switch {
	case d.ConfigOnly() && s.launched.Load():
		return invalid(d.Name, "this function can only be called in the config state")
	case !d.ConfigOnly() && !s.launched.Load():
		return invalid(d.Name, "call launch before using this function")
	case d.HasFileIn() && req.FileIn == nil:
		return invalid(d.Name, "upload source must not be nil")
	case d.HasFileOut() && req.FileOut == nil:
		return invalid(d.Name, "download destination must not be nil")
	}
	return nil
}

func argError(name string, err error) error {
	var ae *guestfs.ArgError
	if errors.As(err, &ae) {
		return &ValidationError{Action: name, Err: fmt.Errorf("argument %s: %w", ae.Arg, ae.Err)}
	}
	return &ValidationError{Action: name, Err: err}
}

// uploadHint returns the size announced in the header of an upload.
func uploadHint(req Request) uint64 {
	if req.FileInSize > 0 {
		return uint64(req.FileInSize)
	}
	if f, ok := req.FileIn.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
			return uint64(fi.Size())
		}
	}
	return 0
}

// discardStray drops progress messages and cancel flags left over from a
// previous call. A launch flag seen here is remembered for Launch.
func (s *Session) discardStray(name string) error {
	for {
		fr, ok, err := s.t.Poll()
		if err != nil {
			return s.fail(fmt.Errorf("%s: connection: %w", name, err))
		}
		if !ok {
			return nil
		}
		switch fr.Kind {
		case guestfs.FrameProgress, guestfs.FrameCancel:
		case guestfs.FrameLaunch:
			if s.launched.Load() {
				return s.fail(&ProtocolError{Action: name, Err: errors.New(msgUnexpectedLaunch)})
			}
			s.launchSeen = true
		default:
			return s.fail(&ProtocolError{Action: name, Err: errors.New("unsolicited message from daemon")})
		}
	}
}

// ============================================================================
// Replies
// ============================================================================

// recvReply reads frames until the reply to call arrives. Progress
// messages go to the callback; stray cancel flags are skipped.
func (s *Session) recvReply(name string, call guestfs.Header) (guestfs.Header, *bytes.Reader, error) {
	for {
		fr, err := s.next(name, nil)
		if err != nil {
			return guestfs.Header{}, nil, err
		}
		if fr.Kind != guestfs.FrameMessage {
			continue
		}

		hdr, body, err := guestfs.SplitHeader(fr.Body)
		if err != nil {
			return guestfs.Header{}, nil, s.fail(&ProtocolError{Action: name, Err: err})
		}
		if err := hdr.MatchReply(call); err != nil {
			return guestfs.Header{}, nil, s.fail(&ProtocolError{Action: name, Err: err})
		}
		return hdr, body, nil
	}
}

// next returns the next message or cancel frame, consuming progress and
// launch frames on the way. Progress goes to r while a transfer runs.
func (s *Session) next(name string, r *relay) (guestfs.Frame, error) {
	for {
		// No protocol timeouts: the daemon may legitimately take as long
		// as the operation needs.
		fr, err := s.t.Next(context.Background())
		if err != nil {
			return guestfs.Frame{}, s.fail(fmt.Errorf("%s: receive: %w", name, err))
		}
		switch fr.Kind {
		case guestfs.FrameProgress:
			if r != nil {
				r.report(fr.Progress)
			} else {
				s.deliver(name, fr.Progress, 0)
			}
			continue
		case guestfs.FrameLaunch:
			if s.launched.Load() {
				return guestfs.Frame{}, s.fail(&ProtocolError{Action: name, Err: errors.New(msgUnexpectedLaunch)})
			}
			s.launchSeen = true
			continue
		}
		return fr, nil
	}
}

func (s *Session) remoteError(d *action.Descriptor, body io.Reader) (*RemoteError, error) {
	var eb guestfs.ErrorBody
	if err := eb.DecodeXDR(body); err != nil {
		return nil, s.fail(&ProtocolError{Action: d.Name, Err: err})
	}
	re := &RemoteError{Proc: d.ProcNr, Action: d.Name, Message: eb.Message, ErrnoName: eb.Errno}
	if eb.Errno != "" {
		re.Errno = guestfs.ErrnoValue(eb.Errno)
	}
	return re, nil
}

// ============================================================================
// File Transfer
// ============================================================================

// watch returns the token for a transfer, bound to ctx.
func watch(ctx context.Context, token *progress.CancelToken) (*progress.CancelToken, func()) {
	if token == nil {
		token = progress.NewCancelToken()
	}
	return token, token.Watch(ctx)
}

// relay holds the progress messages received during a transfer in its
// supervisor's queue. They reach the callback at chunk boundaries.
type relay struct {
	s    *Session
	name string
	call guestfs.Header
	sup  *progress.Supervisor
}

func (s *Session) newRelay(name string, call guestfs.Header, token *progress.CancelToken, hint uint64) *relay {
	r := &relay{s: s, name: name, call: call, sup: progress.NewSupervisor(token, s.queueDepth)}
	_ = r.sup.Announce(hint)
	r.flush()
	return r
}

func (r *relay) report(p guestfs.ProgressMessage) {
	if err := r.sup.Report(p.Position, p.Total); err != nil {
		r.s.deliver(r.name, p, r.sup.Dropped())
	}
}

// flush delivers queued daemon messages. The supervisor's own chunk events
// are discarded.
func (r *relay) flush() {
	_ = r.sup.Drain(func(ev progress.Event) error {
		if ev.Kind == progress.EventReport {
			p := guestfs.ProgressMessage{Proc: r.call.Proc, Serial: r.call.Serial, Position: ev.Position, Total: ev.Total}
			r.s.deliver(r.name, p, r.sup.Dropped())
		}
		return nil
	})
}

// chunk records n bytes on the supervisor and flushes.
func (r *relay) chunk(n int) bool {
	_, ok := r.sup.Chunk(n)
	r.flush()
	return ok
}

// sendFile streams req.FileIn after the call. A cancel by the caller or
// the daemon, and a local read failure, end the stream with a cancel chunk
// so the daemon can still answer. Only transport errors poison the
// session; the returned error otherwise replaces the daemon's reply.
func (s *Session) sendFile(ctx context.Context, name string, req Request, call guestfs.Header) error {
	token, stop := watch(ctx, req.Cancel)
	defer stop()

	r := s.newRelay(name, call, token, call.ProgressHint)
	sup := r.sup

	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)

	var sent uint64
	for {
		daemonCancel, err := s.pollDaemonCancel(r)
		if err != nil {
			return err
		}
		r.flush()
		if daemonCancel {
			logger.Debug("Upload cancelled by daemon", logger.KeyAction, name, logger.KeyBytes, sent)
			return s.sendChunk(name, &guestfs.Chunk{Cancel: true})
		}

		n, rerr := io.ReadFull(req.FileIn, buf)
		if n > 0 {
			if !r.chunk(n) {
				logger.Debug("Upload cancelled", logger.KeyAction, name, logger.KeyBytes, sent)
				return s.sendChunk(name, &guestfs.Chunk{Cancel: true})
			}
			if err := s.sendChunk(name, &guestfs.Chunk{Data: buf[:n]}); err != nil {
				return err
			}
			sent += uint64(n)
		} else if token.Cancelled() {
			r.chunk(0)
			return s.sendChunk(name, &guestfs.Chunk{Cancel: true})
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			_ = sup.Complete()
			return s.sendChunk(name, &guestfs.Chunk{})
		default:
			_ = sup.Fail(rerr)
			if err := s.sendChunk(name, &guestfs.Chunk{Cancel: true}); err != nil {
				return err
			}
			return fmt.Errorf("%s: read upload source: %w", name, rerr)
		}
	}
}

func (s *Session) sendChunk(name string, c *guestfs.Chunk) error {
	if err := s.t.WriteChunk(c); err != nil {
		return s.fail(fmt.Errorf("%s: send chunk: %w", name, err))
	}
	return nil
}

// pollDaemonCancel checks without blocking whether the daemon asked to stop
// the upload.
func (s *Session) pollDaemonCancel(r *relay) (bool, error) {
	name := r.name
	for {
		fr, ok, err := s.t.Poll()
		if err != nil {
			return false, s.fail(fmt.Errorf("%s: connection: %w", name, err))
		}
		if !ok {
			return false, nil
		}
		switch fr.Kind {
		case guestfs.FrameCancel:
			return true, nil
		case guestfs.FrameProgress:
			r.report(fr.Progress)
		default:
			return false, s.fail(&ProtocolError{Action: name, Err: fmt.Errorf("unexpected %s during upload", fr.Kind)})
		}
	}
}

// recvFile copies the chunk stream that follows a download reply into
// req.FileOut. On cancel it sends the cancel flag and keeps discarding
// chunks until the daemon ends the stream. A failing writer is handled the
// same way and its error returned.
func (s *Session) recvFile(ctx context.Context, d *action.Descriptor, req Request, call guestfs.Header) error {
	token, stop := watch(ctx, req.Cancel)
	defer stop()

	r := s.newRelay(d.Name, call, token, 0)
	sup := r.sup

	var (
		sent     bool
		writeErr error
		received uint64
	)
	for {
		if !sent && (token.Cancelled() || writeErr != nil) {
			if err := s.t.WriteFlag(guestfs.CancelFlag); err != nil {
				return s.fail(fmt.Errorf("%s: send cancel: %w", d.Name, err))
			}
			sent = true
		}

		fr, err := s.next(d.Name, r)
		if err != nil {
			return err
		}
		r.flush()
		if fr.Kind == guestfs.FrameCancel {
			continue
		}

		var chunk guestfs.Chunk
		if err := chunk.DecodeXDR(bytes.NewReader(fr.Body)); err != nil {
			return s.fail(&ProtocolError{Action: d.Name, Err: err})
		}

		switch {
		case chunk.Cancel:
			if writeErr != nil {
				_ = sup.Fail(writeErr)
				return writeErr
			}
			if sent {
				_ = sup.Cancel()
				return &RemoteError{Proc: d.ProcNr, Action: d.Name, Message: msgUserCancel, ErrnoName: "EINTR", Errno: syscall.EINTR}
			}
			_ = sup.Fail(errors.New(msgDaemonCancelled))
			return &RemoteError{Proc: d.ProcNr, Action: d.Name, Message: msgDaemonCancelled}
		case len(chunk.Data) == 0:
			_ = sup.Complete()
			if writeErr != nil {
				return writeErr
			}
			if sent && token.Cancelled() {
				// The stream ended before the daemon saw our flag.
				logger.Debug("Download completed despite cancel", logger.KeyAction, d.Name, logger.KeyBytes, received)
			}
			return nil
		}

		if sent {
			continue
		}
		if !r.chunk(len(chunk.Data)) {
			continue
		}
		if _, err := req.FileOut.Write(chunk.Data); err != nil {
			writeErr = fmt.Errorf("%s: write download: %w", d.Name, err)
			continue
		}
		received += uint64(len(chunk.Data))
	}
}

// ============================================================================
// Tracing
// ============================================================================

func (s *Session) logTrace(req Request, ret any, err error, d time.Duration) {
	args := []any{
		logger.KeyAction, req.Action.Name,
		logger.KeyProc, req.Action.ProcNr,
		logger.KeySerial, s.serial.Load(),
		logger.KeyDuration, float64(d.Microseconds()) / 1000,
		"args", req.Args,
	}
	if err != nil {
		logger.Debug("trace: call failed", append(args, logger.KeyError, err)...)
		return
	}
	logger.Debug("trace: call", append(args, "result", traceValue(ret))...)
}

// traceValue keeps buffers out of the log.
func traceValue(v any) any {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	return v
}
