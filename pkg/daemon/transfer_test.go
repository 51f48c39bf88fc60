package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// ============================================================================
// Upload
// ============================================================================

func TestUpload(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)
	data := patterned(3*guestfs.MaxChunkSize + 100)

	hdr := c.send("upload", uint64(len(data)), []any{"/up.bin"})
	c.sendFile(data)
	require.Nil(t, c.result(hdr))

	got, err := os.ReadFile(filepath.Join(srv.config.Sysroot, "up.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Progress uses the hint as total and ends at 100%.
	require.NotEmpty(t, c.progress)
	last := c.progress[len(c.progress)-1]
	assert.Equal(t, hdr.Serial, last.Serial)
	assert.Equal(t, uint64(len(data)), last.Total)
	assert.Equal(t, last.Total, last.Position)
}

func TestUploadQueueOverflowIsCounted(t *testing.T) {
	rec := &droppedRecorder{}
	_, addr := startTestDaemonMetrics(t, func(c *Config) { c.QueueDepth = 1 }, rec)
	c := dialDaemon(t, addr)
	data := patterned(2*guestfs.MaxChunkSize + 10)

	hdr := c.send("upload", uint64(len(data)), []any{"/up.bin"})
	c.sendFile(data)
	require.Nil(t, c.result(hdr))

	// The announce event is pushed out by the first chunk; later chunks
	// are drained before the next one arrives.
	assert.Equal(t, uint64(1), rec.Dropped("upload"))
	require.NotEmpty(t, c.progress)
	last := c.progress[len(c.progress)-1]
	assert.Equal(t, uint64(len(data)), last.Position)
}

func TestUploadDefaultQueueDropsNothing(t *testing.T) {
	rec := &droppedRecorder{}
	_, addr := startTestDaemonMetrics(t, nil, rec)
	c := dialDaemon(t, addr)
	data := patterned(2*guestfs.MaxChunkSize + 10)

	hdr := c.send("upload", uint64(len(data)), []any{"/up.bin"})
	c.sendFile(data)
	require.Nil(t, c.result(hdr))
	assert.Zero(t, rec.Dropped("upload"))
}

func TestUploadEmpty(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	hdr := c.send("upload", 0, []any{"/empty"})
	c.sendFile(nil)
	require.Nil(t, c.result(hdr))
	assert.FileExists(t, filepath.Join(srv.config.Sysroot, "empty"))
	assert.Empty(t, c.progress)
}

func TestUploadCancelledByClient(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	hdr := c.send("upload", 0, []any{"/partial"})
	require.NoError(t, c.tr.WriteChunk(&guestfs.Chunk{Data: patterned(guestfs.MaxChunkSize)}))
	require.NoError(t, c.tr.WriteChunk(&guestfs.Chunk{Cancel: true}))

	eb := c.errorReply(hdr)
	assert.Equal(t, "file upload cancelled", eb.Message)
	c.ping()
}

func TestUploadOpenFailureDrainsStream(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	hdr := c.send("upload", 0, []any{"/no/such/dir/file"})
	c.sendFile(patterned(2 * guestfs.MaxChunkSize))

	fr := c.next()
	assert.Equal(t, guestfs.FrameCancel, fr.Kind, "daemon must ask the client to stop sending")
	eb := c.errorReply(hdr)
	assert.Equal(t, "ENOENT", eb.Errno)
	assert.Equal(t, "/no/such/dir/file: no such file or directory", eb.Message)
	c.ping()
}

func TestUploadPathErrorDrainsStream(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	hdr := c.send("upload", 0, []any{"relative"})
	c.sendFile(patterned(100))

	fr := c.next()
	assert.Equal(t, guestfs.FrameCancel, fr.Kind)
	eb := c.errorReply(hdr)
	assert.Equal(t, "upload: path must start with a / character", eb.Message)
	c.ping()
}

func TestUploadOffset(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	writeGuestFile(t, srv, "f", []byte("0123456789"))
	c := dialDaemon(t, addr)

	hdr := c.send("upload_offset", 0, []any{"/f", int64(4)})
	c.sendFile([]byte("ab"))
	require.Nil(t, c.result(hdr))

	got, err := os.ReadFile(filepath.Join(srv.config.Sysroot, "f"))
	require.NoError(t, err)
	assert.Equal(t, "0123ab6789", string(got))

	hdr = c.send("upload_offset", 0, []any{"/f", int64(-1)})
	c.sendFile([]byte("zz"))
	assert.Equal(t, guestfs.FrameCancel, c.next().Kind)
	eb := c.errorReply(hdr)
	assert.Equal(t, "/f: offset in file is negative", eb.Message)
}

// ============================================================================
// Download
// ============================================================================

func TestDownload(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	data := patterned(2*guestfs.MaxChunkSize + 3616)
	writeGuestFile(t, srv, "dl.bin", data)
	c := dialDaemon(t, addr)

	hdr := c.send("download", 0, []any{"/dl.bin"})
	reply, _ := c.reply(hdr)
	require.Equal(t, guestfs.StatusOK, reply.Status)
	got, cancelled := c.recvFile()
	require.False(t, cancelled)
	assert.Equal(t, data, got)

	require.NotEmpty(t, c.progress)
	last := c.progress[len(c.progress)-1]
	assert.Equal(t, uint64(len(data)), last.Position)
	assert.Equal(t, uint64(len(data)), last.Total)
	c.ping()
}

func TestDownloadQueueOverflowIsCounted(t *testing.T) {
	rec := &droppedRecorder{}
	srv, addr := startTestDaemonMetrics(t, func(c *Config) { c.QueueDepth = 1 }, rec)
	data := patterned(guestfs.MaxChunkSize + 10)
	writeGuestFile(t, srv, "dl.bin", data)
	c := dialDaemon(t, addr)

	hdr := c.send("download", 0, []any{"/dl.bin"})
	reply, _ := c.reply(hdr)
	require.Equal(t, guestfs.StatusOK, reply.Status)
	got, cancelled := c.recvFile()
	require.False(t, cancelled)
	assert.Equal(t, data, got)

	// The daemon has settled the transfer once it answers the next call.
	c.ping()
	assert.Equal(t, uint64(1), rec.Dropped("download"))
}

func TestDownloadMissingFileIsOrdinaryError(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)

	eb := c.callErr("download", []any{"/missing"})
	assert.Equal(t, "ENOENT", eb.Errno)
	c.ping()
}

func TestDownloadCancelledByClient(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	host := filepath.Join(srv.config.Sysroot, "huge")
	f, err := os.Create(host)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(64<<20))
	require.NoError(t, f.Close())
	c := dialDaemon(t, addr)

	hdr := c.send("download", 0, []any{"/huge"})
	reply, _ := c.reply(hdr)
	require.Equal(t, guestfs.StatusOK, reply.Status)

	require.NoError(t, c.tr.WriteFlag(guestfs.CancelFlag))
	got, cancelled := c.recvFile()
	assert.True(t, cancelled, "stream must end with a cancel chunk")
	assert.Less(t, len(got), 64<<20)

	c.ping()
}

func TestDownloadOffset(t *testing.T) {
	srv, addr := startTestDaemon(t, nil)
	writeGuestFile(t, srv, "f", []byte("0123456789"))
	c := dialDaemon(t, addr)

	hdr := c.send("download_offset", 0, []any{"/f", int64(2), int64(5)})
	reply, _ := c.reply(hdr)
	require.Equal(t, guestfs.StatusOK, reply.Status)
	got, _ := c.recvFile()
	assert.Equal(t, "23456", string(got))

	// A size past the end stops at end of file.
	hdr = c.send("download_offset", 0, []any{"/f", int64(8), int64(100)})
	c.reply(hdr)
	got, _ = c.recvFile()
	assert.Equal(t, "89", string(got))

	eb := c.callErr("download_offset", []any{"/f", int64(-1), int64(1)})
	assert.Equal(t, "/f: offset in file is negative", eb.Message)
	eb = c.callErr("download_offset", []any{"/f", int64(0), int64(-1)})
	assert.Equal(t, "/f: size is negative", eb.Message)
}

func TestTransfersShareConnection(t *testing.T) {
	_, addr := startTestDaemon(t, nil)
	c := dialDaemon(t, addr)
	data := bytes.Repeat([]byte("abc"), 10000)

	hdr := c.send("upload", uint64(len(data)), []any{"/roundtrip"})
	c.sendFile(data)
	require.Nil(t, c.result(hdr))

	hdr = c.send("download", 0, []any{"/roundtrip"})
	c.reply(hdr)
	got, _ := c.recvFile()
	assert.Equal(t, data, got)

	assert.Equal(t, int64(len(data)), c.call("filesize", []any{"/roundtrip"}))
}
