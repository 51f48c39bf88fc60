package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/internal/telemetry"
	"github.com/marmos91/guestfsrpc/pkg/action"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// ============================================================================
// Dispatch Table
// ============================================================================

// procedure binds an action descriptor to its implementation.
type procedure struct {
	desc    *action.Descriptor
	wire    []action.ArgSpec
	handler handlerFunc
}

// dispatchTable maps procedure numbers to procedures. It is built once in
// init and never modified.
var dispatchTable map[uint32]*procedure

func init() {
	initDispatchTable()
}

func initDispatchTable() {
	impls := map[string]handlerFunc{
		"ping_daemon": doPingDaemon,
		"set_verbose": doSetVerbose,
		"version":     doVersion,

		"stat":      doStat,
		"lstat":     doLstat,
		"lstatlist": doLstatList,
		"statvfs":   doStatVFS,
		"exists":    doExists,
		"is_dir":    doIsDir,
		"is_file":   doIsFile,
		"filesize":  doFilesize,

		"mkdir":    doMkdir,
		"rm":       doRm,
		"touch":    doTouch,
		"ls":       doLs,
		"readdir":  doReaddir,
		"chmod":    doChmod,
		"rename":   doRename,
		"readlink": doReadlink,
		"ln_s":     doLnS,

		"cat":          doCat,
		"read_file":    doReadFile,
		"write":        doWrite,
		"write_append": doWriteAppend,
		"pread":        doPread,
		"checksum":     doChecksum,

		"upload":          doUpload,
		"upload_offset":   doUploadOffset,
		"download":        doDownload,
		"download_offset": doDownloadOffset,
		"compress_out":    doCompressOut,

		"list_devices":       doListDevices,
		"list_filesystems":   doListFilesystems,
		"blockdev_getsize64": doBlockdevGetsize64,

		"mkdtemp": doMkdtemp,
		"find":    doFind,
	}

	dispatchTable = make(map[uint32]*procedure, len(impls))
	for _, d := range action.Builtin().All() {
		h, ok := impls[d.Name]
		if !ok {
			panic("daemon: no implementation for action " + d.Name)
		}
		dispatchTable[d.ProcNr] = &procedure{desc: d, wire: guestfs.WireArgs(d), handler: h}
	}
}

// errEncodeReply is sent when a result cannot be encoded, usually because
// it does not fit in one message.
var errEncodeReply = errors.New("failed to encode reply body (maybe the reply exceeds the maximum message size in the protocol?)")

// ============================================================================
// Message Handling
// ============================================================================

// handleMessage processes one call message. A returned error means the
// connection can no longer be used.
func (c *Conn) handleMessage(ctx context.Context, body []byte) error {
	start := time.Now()

	hdr, r, err := guestfs.SplitHeader(body)
	if err != nil {
		return fmt.Errorf("could not decode message header: %w", err)
	}
	if err := hdr.CheckCall(); err != nil {
		return c.replyLocal(ctx, hdr, "unknown", start, err)
	}

	p, ok := dispatchTable[hdr.Proc]
	if !ok {
		return c.replyLocal(ctx, hdr, "unknown", start, fmt.Errorf("unknown procedure number %d", hdr.Proc))
	}
	return c.dispatch(ctx, p, hdr, r, start)
}

// dispatch runs one call: bitmask and argument decoding, argument
// resolution, the implementation, then the reply strategy the action
// needs. Failures before the implementation runs are local errors; the
// implementation's own failures are operational errors.
func (c *Conn) dispatch(ctx context.Context, p *procedure, hdr guestfs.Header, r io.Reader, start time.Time) error {
	d := p.desc

	ctx, span := telemetry.StartCallSpan(ctx, d.Name, hdr.Proc, hdr.Serial,
		telemetry.ConnID(c.id),
		telemetry.ClientAddr(c.peer),
		telemetry.Bitmask(uint64(hdr.OptArgsBitmask)),
		telemetry.Hint(hdr.ProgressHint))
	defer span.End()

	lc := c.lc.ForCall(d.Name, hdr.Serial)
	if telemetry.IsEnabled() {
		lc = lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	}
	ctx = logger.WithContext(ctx, lc)

	c.srv.metrics.callStart(d.Name)
	req := &Request{Action: d, Header: hdr, conn: c}

	var notify *progress.Notifier
	if d.EmitsProgress() {
		notify = progress.NewNotifier(c.progressSender(d.Name, hdr), c.srv.config.Progress)
	}
	if d.HasFileIn() {
		req.FileIn = newFileIn(ctx, c, req, notify)
	}

	args, opts, err := guestfs.DecodeArgs(r, d, hdr.OptArgsBitmask)
	if err != nil {
		logger.DebugCtx(ctx, "Argument decoding failed", logger.KeyError, err,
			logger.KeyBitmask, fmt.Sprintf("0x%x", uint64(hdr.OptArgsBitmask)))
		if errors.Is(err, guestfs.ErrUnknownOptArg) {
			err = guestfs.ErrUnknownOptArg
		} else {
			err = fmt.Errorf("%s: daemon failed to decode procedure arguments", d.Name)
		}
		return c.failLocal(ctx, span, req, start, err)
	}
	req.Args, req.OptArgs = args, opts

	targets, err := c.srv.ns.resolveArgs(d, p.wire, args)
	if err != nil {
		return c.failLocal(ctx, span, req, start, err)
	}
	req.targets = targets

	if d.HasFileOut() {
		req.FileOut = newFileOut(ctx, c, req, notify)
	}

	ret, err := p.handler(ctx, req)
	if broken := c.broken.Load(); broken != nil {
		telemetry.RecordError(ctx, broken)
		c.srv.metrics.callEnd(d.Name, time.Since(start), metrics.KindOp, "")
		return broken
	}

	if f := req.FileIn; f != nil {
		if errors.Is(err, ErrCancelled) {
			err = Errorf(0, "file upload cancelled")
		}
		if derr := f.CancelReceive(); derr != nil {
			return derr
		}
	}

	if f := req.FileOut; f != nil && f.Begun() {
		return c.endFileOut(ctx, span, req, start, err)
	}

	if err != nil {
		return c.replyOp(ctx, span, req, start, err)
	}

	if f := req.FileOut; f != nil {
		// The implementation had nothing to send.
		if err := f.Begin(0); err != nil {
			return err
		}
		if err := f.End(false); err != nil {
			return err
		}
		c.logCall(ctx, req, start, metrics.KindOK, nil)
		return nil
	}

	if req.FileIn != nil {
		if err := notify.Finish(req.FileIn.Hint()); err != nil {
			return c.breakConn(err)
		}
	}
	return c.replyResult(ctx, span, req, start, ret)
}

// endFileOut closes a download whose reply was already sent. An error at
// this point can only be signalled by cancelling the stream.
func (c *Conn) endFileOut(ctx context.Context, span trace.Span, req *Request, start time.Time, err error) error {
	f := req.FileOut
	span.SetAttributes(telemetry.BytesRead(f.Sent()), telemetry.Cancelled(errors.Is(err, ErrCancelled)))

	switch {
	case err == nil:
		if e := f.End(false); e != nil {
			return e
		}
		c.logCall(ctx, req, start, metrics.KindOK, nil)
	case errors.Is(err, ErrCancelled):
		c.logCall(ctx, req, start, metrics.KindOK, nil)
	default:
		if e := f.End(true); e != nil {
			return e
		}
		telemetry.RecordError(ctx, err)
		c.logCall(ctx, req, start, metrics.KindOp, err)
	}
	return nil
}

func (c *Conn) progressSender(action string, hdr guestfs.Header) progress.Sender {
	return func(position, total uint64) error {
		c.srv.metrics.progressMessage(action)
		return c.t.WriteProgress(guestfs.ProgressMessage{
			Proc:     hdr.Proc,
			Serial:   hdr.Serial,
			Position: position,
			Total:    total,
		})
	}
}

// ============================================================================
// Replies
// ============================================================================

// failLocal replies with an error raised before the implementation ran.
// An upload is drained first so the stream stays in sync.
func (c *Conn) failLocal(ctx context.Context, span trace.Span, req *Request, start time.Time, err error) error {
	if req.FileIn != nil {
		if derr := req.FileIn.CancelReceive(); derr != nil {
			return derr
		}
	}
	span.SetAttributes(telemetry.ErrorKind(metrics.KindLocal))
	telemetry.RecordError(ctx, err)
	return c.replyLocal(ctx, req.Header, req.Action.Name, start, err)
}

// replyLocal sends a rejection. Validation failures carry no errno; a
// resolver may attach one (ENOENT for an unknown device).
func (c *Conn) replyLocal(ctx context.Context, hdr guestfs.Header, name string, start time.Time, err error) error {
	errno := errnoOf(err)
	logger.WarnCtx(ctx, "Call rejected",
		logger.KeyAction, name,
		logger.KeyProc, hdr.Proc,
		logger.KeySerial, hdr.Serial,
		logger.KeyKind, metrics.KindLocal,
		logger.KeyError, err)
	c.srv.metrics.callEnd(name, time.Since(start), metrics.KindLocal, errno)
	return c.sendError(hdr, errorBody(err))
}

func (c *Conn) replyOp(ctx context.Context, span trace.Span, req *Request, start time.Time, err error) error {
	span.SetAttributes(telemetry.ErrorKind(metrics.KindOp))
	if name := errnoOf(err); name != "" {
		span.SetAttributes(telemetry.Errno(name))
	}
	telemetry.RecordError(ctx, err)
	c.logCall(ctx, req, start, metrics.KindOp, err)
	return c.sendError(req.Header, errorBody(err))
}

func (c *Conn) replyResult(ctx context.Context, span trace.Span, req *Request, start time.Time, ret any) error {
	var body bytes.Buffer
	err := guestfs.EncodeRet(&body, req.Action.Ret, ret)
	if err == nil && guestfs.HeaderSize+body.Len() > int(c.srv.maxMessage()) {
		err = fmt.Errorf("reply of %d bytes exceeds %d", guestfs.HeaderSize+body.Len(), c.srv.maxMessage())
	}
	if err != nil {
		logger.WarnCtx(ctx, "Reply encoding failed", logger.KeyError, err)
		span.SetAttributes(telemetry.ErrorKind(metrics.KindLocal))
		c.srv.metrics.callEnd(req.Action.Name, time.Since(start), metrics.KindLocal, "")
		return c.sendError(req.Header, guestfs.NewErrorBody("", errEncodeReply.Error()))
	}

	reply := guestfs.ReplyTo(req.Header, guestfs.StatusOK)
	if err := c.t.WriteHeader(&reply, body.Bytes()); err != nil {
		return c.breakConn(err)
	}
	c.logCall(ctx, req, start, metrics.KindOK, nil)
	return nil
}

// sendError writes an error reply echoing the call's procedure and serial.
func (c *Conn) sendError(call guestfs.Header, body guestfs.ErrorBody) error {
	reply := guestfs.ReplyTo(call, guestfs.StatusError)
	// A call with the wrong program or version is answered in our own.
	reply.Prog, reply.Vers = guestfs.Program, guestfs.ProtocolVersion

	var buf bytes.Buffer
	if err := body.EncodeXDR(&buf); err != nil {
		return err
	}
	if err := c.t.WriteHeader(&reply, buf.Bytes()); err != nil {
		return c.breakConn(err)
	}
	return nil
}

// logCall records a finished call. Operational errors go to DEBUG: they
// are ordinary results for the client (ENOENT from exists-like probing).
// set_verbose raises successful calls to INFO.
func (c *Conn) logCall(ctx context.Context, req *Request, start time.Time, kind string, err error) {
	d := time.Since(start)
	errno := errnoOf(err)
	c.srv.metrics.callEnd(req.Action.Name, d, kind, errno)

	args := []any{
		logger.KeyProc, req.Header.Proc,
		logger.KeyKind, kind,
		logger.KeyDuration, float64(d.Microseconds()) / 1000,
	}
	if err != nil {
		args = append(args, logger.KeyError, err)
		if errno != "" {
			args = append(args, logger.KeyErrno, errno)
		}
		logger.DebugCtx(ctx, "Call failed", args...)
		return
	}
	if c.verbose.Load() {
		logger.InfoCtx(ctx, "Call", args...)
		return
	}
	logger.DebugCtx(ctx, "Call", args...)
}
