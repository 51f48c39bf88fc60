package daemon

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/internal/protocol/xdr"
	"github.com/marmos91/guestfsrpc/pkg/action"
)

func TestDispatchTableCoversCatalog(t *testing.T) {
	all := action.Builtin().All()
	require.Len(t, dispatchTable, len(all))
	for _, d := range all {
		p, ok := dispatchTable[d.ProcNr]
		require.True(t, ok, d.Name)
		assert.Equal(t, d.Name, p.desc.Name)
	}
}

func TestLaunchAndPing(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	c.ping()
	c.ping()
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestVersion(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	v := c.call("version", nil).(*guestfs.Version)
	assert.Equal(t, guestfs.Version{Major: 1, Minor: 52, Release: 0, Extra: "test"}, *v)
}

func TestUnknownProcedure(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	call := guestfs.NewCall(9999, 7)
	c.sendHeader(call, nil)
	eb := c.errorReply(call)
	assert.Equal(t, "unknown procedure number 9999", eb.Message)
	assert.Empty(t, eb.Errno)

	// The connection survives.
	c.ping()
}

func TestUnknownOptionalArgumentBit(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	d := action.MustLookup("stat")
	var body bytes.Buffer
	// No argument follows: the bitmask must be rejected before decoding.
	call := guestfs.NewCall(d.ProcNr, 1)
	call.OptArgsBitmask = guestfs.Bitmask(0).Set(40)
	c.sendHeader(call, body.Bytes())

	eb := c.errorReply(call)
	assert.Equal(t, "unknown optional argument", eb.Message)
	c.ping()
}

func TestArgumentDecodeFailure(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	call := guestfs.NewCall(action.MustLookup("stat").ProcNr, 1)
	c.sendHeader(call, []byte{0, 0})

	eb := c.errorReply(call)
	assert.Equal(t, "stat: daemon failed to decode procedure arguments", eb.Message)
	c.ping()
}

func TestHeaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*guestfs.Header)
		want   string
	}{
		{
			name:   "wrong program",
			mutate: func(h *guestfs.Header) { h.Prog = 0x1234 },
			want:   fmt.Sprintf("wrong program (%d/%d)", 0x1234, guestfs.Program),
		},
		{
			name:   "wrong version",
			mutate: func(h *guestfs.Header) { h.Vers = 3 },
			want:   fmt.Sprintf("wrong protocol version (3/%d)", guestfs.ProtocolVersion),
		},
		{
			name:   "reply direction",
			mutate: func(h *guestfs.Header) { h.Direction = guestfs.Reply },
			want:   "unexpected message direction (1) or status (0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startTestDaemon(t, nil)
			c := dialDaemon(t, addr)

			call := guestfs.NewCall(action.ProcPingDaemon, 3)
			tt.mutate(&call)
			c.sendHeader(call, nil)

			fr := c.next()
			require.Equal(t, guestfs.FrameMessage, fr.Kind)
			reply, r, err := guestfs.SplitHeader(fr.Body)
			require.NoError(t, err)
			assert.Equal(t, guestfs.Program, reply.Prog)
			assert.Equal(t, guestfs.ProtocolVersion, reply.Vers)
			assert.Equal(t, uint32(3), reply.Serial)
			assert.Equal(t, guestfs.StatusError, reply.Status)

			var eb guestfs.ErrorBody
			require.NoError(t, eb.DecodeXDR(r))
			assert.Equal(t, tt.want, eb.Message)
		})
	}
}

func TestPathValidation(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	eb := c.callErr("stat", []any{"etc/hostname"})
	assert.Equal(t, "stat: path must start with a / character", eb.Message)
	assert.Empty(t, eb.Errno)

	eb = c.callErr("blockdev_getsize64", []any{"sda"})
	assert.Equal(t, "blockdev_getsize64: sda: expecting a device name", eb.Message)
	assert.Empty(t, eb.Errno)

	eb = c.callErr("blockdev_getsize64", []any{"/dev/sdz"})
	assert.Equal(t, "ENOENT", eb.Errno)
	assert.Equal(t, "blockdev_getsize64: /dev/sdz: "+syscall.ENOENT.Error(), eb.Message)
}

func TestNoRootFilesystem(t *testing.T) {
	_, addr := startTestDaemon(t, func(cfg *Config) { cfg.Sysroot = "" })
	c := dialDaemon(t, addr)

	eb := c.callErr("stat", []any{"/"})
	assert.Equal(t, "stat: you must call 'mount' first to mount the root filesystem", eb.Message)

	// Calls without path arguments still work.
	assert.Empty(t, c.call("list_devices", nil))
}

func TestOperationalErrorCarriesErrno(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	eb := c.callErr("stat", []any{"/missing"})
	assert.Equal(t, "ENOENT", eb.Errno)
	assert.Equal(t, "/missing: no such file or directory", eb.Message)
}

func TestSymlinkCannotEscapeSysroot(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	require.NoError(t, os.Symlink("/etc", filepath.Join(srv.config.Sysroot, "escape")))
	c := dialDaemon(t, addr)

	c.callErr("ls", []any{"/escape"})
	c.callErr("cat", []any{"/escape/hostname"})

	// Reading the link itself is fine.
	assert.Equal(t, "/etc", c.call("readlink", []any{"/escape"}))
}

func TestReplyTooLarge(t *testing.T) {
	srv, addr := startTestDaemon(t, func(cfg *Config) { cfg.MaxMessageSize = 4096 })
	dir := filepath.Join(srv.config.Sysroot, "many")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for i := range 300 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("file-with-a-long-name-%04d", i)), nil, 0o644))
	}
	c := dialDaemon(t, addr)

	eb := c.callErr("ls", []any{"/many"})
	assert.Equal(t, errEncodeReply.Error(), eb.Message)
	c.ping()
}

func TestStrayCancelFlagIsIgnored(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	require.NoError(t, c.tr.WriteFlag(guestfs.CancelFlag))
	c.ping()
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	_, addr := startTestDaemon(t, nil)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = nc.Close() }()

	var launch [4]byte
	_, err = nc.Read(launch[:])
	require.NoError(t, err)
	require.Equal(t, guestfs.LaunchFlag, binary.BigEndian.Uint32(launch[:]))

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], guestfs.MessageMax+1)
	_, err = nc.Write(length[:])
	require.NoError(t, err)

	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = nc.Read(launch[:])
	assert.Error(t, err)
}

func TestConnectionLimit(t *testing.T) {
	srv, addr := startTestDaemon(t, func(cfg *Config) { cfg.MaxConnections = 1 })
	c := dialDaemon(t, addr)
	c.ping()
	require.Equal(t, int32(1), srv.ActiveConnections())

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = nc.Close() }()
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	var b [4]byte
	_, err = nc.Read(b[:])
	assert.Error(t, err, "connection above the limit must be closed without a launch flag")
}

func TestSetVerbose(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	require.Nil(t, c.call("set_verbose", []any{true}))
	c.ping()
	require.Nil(t, c.call("set_verbose", []any{false}))
}

func TestErrorBodyTruncation(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	long := "/" + string(bytes.Repeat([]byte("x"), 250))
	eb := c.callErr("stat", []any{long + "/y"})
	assert.LessOrEqual(t, len(eb.Message), guestfs.ErrorLen)
}

func TestHandleMessageBadHeader(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	// A body shorter than a header cannot be answered.
	var buf bytes.Buffer
	require.NoError(t, xdr.WriteUint32(&buf, guestfs.Program))
	require.NoError(t, c.tr.WriteMessage(buf.Bytes()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.tr.Next(ctx)
	assert.Error(t, err)
}
