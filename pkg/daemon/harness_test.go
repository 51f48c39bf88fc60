package daemon

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/action"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// ============================================================================
// Test Helpers
// ============================================================================

// immediateProgress makes the notifier send on every chunk.
var immediateProgress = progress.NotifierConfig{InitialDelay: time.Nanosecond, Interval: time.Nanosecond}

// startTestDaemon serves a fresh sysroot on a random loopback port. The
// daemon is stopped when the test completes.
func startTestDaemon(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	return startTestDaemonMetrics(t, mutate, nil)
}

// startTestDaemonMetrics is startTestDaemon reporting to m.
func startTestDaemonMetrics(t *testing.T, mutate func(*Config), m metrics.DaemonMetrics) (*Server, string) {
	t.Helper()

	cfg := Config{
		Network:  "tcp",
		Sysroot:  t.TempDir(),
		Progress: immediateProgress,
		Version:  guestfs.Version{Major: 1, Minor: 52, Release: 0, Extra: "test"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg, m)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeListener(context.Background(), l)
	}()
	<-srv.WaitReady()

	t.Cleanup(func() {
		_ = srv.Stop(2 * time.Second)
		<-done
	})
	return srv, l.Addr().String()
}

// droppedRecorder keeps the dropped progress counts and ignores the rest.
type droppedRecorder struct {
	mu      sync.Mutex
	dropped map[string]uint64
}

func (r *droppedRecorder) RecordProgressDropped(action string, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped == nil {
		r.dropped = make(map[string]uint64)
	}
	r.dropped[action] += n
}

func (r *droppedRecorder) Dropped(action string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[action]
}

func (*droppedRecorder) RecordCall(string, time.Duration, string, string) {}
func (*droppedRecorder) RecordCallStart(string)                           {}
func (*droppedRecorder) RecordCallEnd(string)                             {}
func (*droppedRecorder) RecordBytesTransferred(string, string, uint64)    {}
func (*droppedRecorder) RecordCancellation(string, string)                {}
func (*droppedRecorder) RecordProgressMessage(string)                     {}
func (*droppedRecorder) SetActiveConnections(int32)                       {}
func (*droppedRecorder) RecordConnectionAccepted()                        {}
func (*droppedRecorder) RecordConnectionClosed()                          {}
func (*droppedRecorder) RecordConnectionRejected()                        {}

// testConn speaks the raw protocol to a daemon.
type testConn struct {
	t        *testing.T
	tr       *guestfs.Transport
	serial   uint32
	progress []guestfs.ProgressMessage
}

// dialDaemon connects and consumes the launch flag.
func dialDaemon(t *testing.T, addr string) *testConn {
	t.Helper()

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := &testConn{t: t, tr: guestfs.NewTransport(nc, 0)}
	t.Cleanup(func() { _ = c.tr.Close() })

	fr := c.next()
	require.Equal(t, guestfs.FrameLaunch, fr.Kind)
	return c
}

func (c *testConn) next() guestfs.Frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fr, err := c.tr.Next(ctx)
	require.NoError(c.t, err)
	return fr
}

// send encodes and writes a call. opts is aligned with the action's
// optional arguments, nil where absent.
func (c *testConn) send(name string, hint uint64, args []any, opts ...any) guestfs.Header {
	c.t.Helper()
	d := action.MustLookup(name)

	var body bytes.Buffer
	mask, err := guestfs.EncodeArgs(&body, d, args, opts)
	require.NoError(c.t, err)

	c.serial++
	hdr := guestfs.NewCall(d.ProcNr, c.serial)
	hdr.ProgressHint = hint
	hdr.OptArgsBitmask = mask
	require.NoError(c.t, c.tr.WriteHeader(&hdr, body.Bytes()))
	return hdr
}

// sendHeader writes a hand-built call.
func (c *testConn) sendHeader(hdr guestfs.Header, body []byte) {
	c.t.Helper()
	require.NoError(c.t, c.tr.WriteHeader(&hdr, body))
}

// reply reads the next reply, collecting progress messages on the way.
func (c *testConn) reply(call guestfs.Header) (guestfs.Header, *bytes.Reader) {
	c.t.Helper()
	for {
		fr := c.next()
		switch fr.Kind {
		case guestfs.FrameProgress:
			c.progress = append(c.progress, fr.Progress)
			continue
		case guestfs.FrameMessage:
		default:
			c.t.Fatalf("unexpected %s frame while waiting for reply", fr.Kind)
		}
		hdr, r, err := guestfs.SplitHeader(fr.Body)
		require.NoError(c.t, err)
		require.NoError(c.t, hdr.MatchReply(call))
		return hdr, r
	}
}

// call runs an action that must succeed and returns its decoded result.
func (c *testConn) call(name string, args []any, opts ...any) any {
	c.t.Helper()
	hdr := c.send(name, 0, args, opts...)
	return c.result(hdr)
}

func (c *testConn) result(call guestfs.Header) any {
	c.t.Helper()
	reply, r := c.reply(call)
	if reply.Status != guestfs.StatusOK {
		var eb guestfs.ErrorBody
		require.NoError(c.t, eb.DecodeXDR(r))
		c.t.Fatalf("call %d failed: %s (%s)", call.Proc, eb.Message, eb.Errno)
	}
	d, ok := action.Builtin().ByProc(call.Proc)
	require.True(c.t, ok)
	v, err := guestfs.DecodeRet(r, d.Ret)
	require.NoError(c.t, err)
	return v
}

// callErr runs an action that must fail and returns the error body.
func (c *testConn) callErr(name string, args []any, opts ...any) guestfs.ErrorBody {
	c.t.Helper()
	hdr := c.send(name, 0, args, opts...)
	return c.errorReply(hdr)
}

func (c *testConn) errorReply(call guestfs.Header) guestfs.ErrorBody {
	c.t.Helper()
	reply, r := c.reply(call)
	require.Equal(c.t, guestfs.StatusError, reply.Status)
	var eb guestfs.ErrorBody
	require.NoError(c.t, eb.DecodeXDR(r))
	return eb
}

// sendFile writes data as chunks followed by the end marker.
func (c *testConn) sendFile(data []byte) {
	c.t.Helper()
	for len(data) > 0 {
		n := min(len(data), guestfs.MaxChunkSize)
		require.NoError(c.t, c.tr.WriteChunk(&guestfs.Chunk{Data: data[:n]}))
		data = data[n:]
	}
	require.NoError(c.t, c.tr.WriteChunk(&guestfs.Chunk{}))
}

// recvFile reads chunks until the end marker or a cancel chunk.
func (c *testConn) recvFile() (data []byte, cancelled bool) {
	c.t.Helper()
	for {
		fr := c.next()
		if fr.Kind == guestfs.FrameProgress {
			c.progress = append(c.progress, fr.Progress)
			continue
		}
		require.Equal(c.t, guestfs.FrameMessage, fr.Kind)

		var ch guestfs.Chunk
		require.NoError(c.t, ch.DecodeXDR(bytes.NewReader(fr.Body)))
		if ch.Cancel {
			return data, true
		}
		if len(ch.Data) == 0 {
			return data, false
		}
		data = append(data, ch.Data...)
	}
}

func (c *testConn) ping() {
	c.t.Helper()
	require.Nil(c.t, c.call("ping_daemon", nil))
}
