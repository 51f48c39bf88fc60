package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on guestfs spans.
const (
	AttrClientAddr = "client.address"
	AttrConnID     = "guestfs.conn_id"

	AttrAction  = "guestfs.action"
	AttrProc    = "guestfs.proc"
	AttrSerial  = "guestfs.serial"
	AttrBitmask = "guestfs.optargs_bitmask"
	AttrHint    = "guestfs.progress_hint"

	AttrErrorKind = "guestfs.error_kind" // local, op
	AttrErrno     = "guestfs.errno"

	AttrPath       = "fs.path"
	AttrBytesRead  = "fs.bytes_read"
	AttrBytesWrite = "fs.bytes_written"
	AttrCancelled  = "transfer.cancelled"
)

// Span names.
const (
	SpanCall     = "guestfs.call"
	SpanFileIn   = "guestfs.file_in"
	SpanFileOut  = "guestfs.file_out"
	SpanDispatch = "guestfs.dispatch"
)

func ClientAddr(addr string) attribute.KeyValue { return attribute.String(AttrClientAddr, addr) }
func ConnID(id string) attribute.KeyValue       { return attribute.String(AttrConnID, id) }
func Action(name string) attribute.KeyValue     { return attribute.String(AttrAction, name) }
func Proc(nr uint32) attribute.KeyValue         { return attribute.Int64(AttrProc, int64(nr)) }
func Serial(s uint32) attribute.KeyValue        { return attribute.Int64(AttrSerial, int64(s)) }
func Hint(n uint64) attribute.KeyValue          { return attribute.Int64(AttrHint, int64(n)) }
func ErrorKind(k string) attribute.KeyValue     { return attribute.String(AttrErrorKind, k) }
func Errno(name string) attribute.KeyValue      { return attribute.String(AttrErrno, name) }
func Path(p string) attribute.KeyValue          { return attribute.String(AttrPath, p) }
func Cancelled(c bool) attribute.KeyValue       { return attribute.Bool(AttrCancelled, c) }

// Bitmask renders the optional-argument bitmask in hex, since int64
// attributes cannot carry the top bit.
func Bitmask(m uint64) attribute.KeyValue {
	return attribute.String(AttrBitmask, "0x"+strconv.FormatUint(m, 16))
}

func BytesRead(n uint64) attribute.KeyValue  { return attribute.Int64(AttrBytesRead, int64(n)) }
func BytesWrite(n uint64) attribute.KeyValue { return attribute.Int64(AttrBytesWrite, int64(n)) }

// StartCallSpan starts the server span for one dispatched call.
func StartCallSpan(ctx context.Context, action string, proc, serial uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Action(action), Proc(proc), Serial(serial)}, attrs...)
	return StartSpan(ctx, SpanDispatch,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...),
	)
}

// StartTransferSpan starts a child span for a FileIn or FileOut stream.
func StartTransferSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
