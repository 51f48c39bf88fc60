package commands

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/client"
	"github.com/marmos91/guestfsrpc/pkg/daemon"
)

type fixture struct {
	root string
	addr string
}

func newFixture(t *testing.T, devices map[string]string) *fixture {
	t.Helper()

	root := t.TempDir()
	srv, err := daemon.NewServer(daemon.Config{
		Network: "tcp",
		Sysroot: root,
		Devices: devices,
		Version: guestfs.Version{Major: 1, Minor: 52, Extra: "test"},
	}, nil)
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

	return &fixture{root: root, addr: l.Addr().String()}
}

// resetFlags restores command flags that persist between Execute calls.
func resetFlags() {
	statNoFollow = false
	mkdirParents, mkdirMode = false, ""
	rmForce, rmRecursive = false, false
	checksumType = "sha256"
	findSuffix = ""
	uploadOffset = -1
	downloadOffset, downloadSize, downloadCompress, downloadLevel = 0, -1, "", 0
	versionLocal = false
	pingCount = 1
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
}

// run executes guestfsctl with args against the fixture and returns stdout.
func (f *fixture) run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(append([]string{"--network", "tcp", "--address", f.addr, "--output", "table", "--timeout", "10s"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (f *fixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := f.run(t, nil, args...)
	require.NoError(t, err, "guestfsctl %s", strings.Join(args, " "))
	return out
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	p := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestPingAndVersion(t *testing.T) {
	f := newFixture(t, nil)

	assert.Contains(t, f.mustRun(t, "ping", "--count", "2"), "seq=2")

	out := f.mustRun(t, "version", "-o", "json")
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.52.0test", info.Daemon)
}

func TestListingAndStat(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "etc/fstab", "abc")
	f.write(t, "etc/hosts", "127.0.0.1 localhost\n")

	out := f.mustRun(t, "ls", "/etc")
	assert.Contains(t, out, "fstab")
	assert.Contains(t, out, "hosts")

	var entries []entry
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "ll", "/etc", "-o", "json")), &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Mode, "-"), "mode %s", e.Mode)
		if e.Name == "fstab" {
			assert.Equal(t, int64(3), e.Size)
		}
	}

	var st client.Stat
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "stat", "/etc/hosts", "-o", "json")), &st))
	assert.Equal(t, int64(20), st.Size)

	out = f.mustRun(t, "stat", "/etc")
	assert.Contains(t, out, "drwx")

	assert.Equal(t, "abc", f.mustRun(t, "cat", "/etc/fstab"))
}

func TestDirectoryEdits(t *testing.T) {
	f := newFixture(t, nil)

	f.mustRun(t, "mkdir", "-p", "/a/b/c")
	info, err := os.Stat(filepath.Join(f.root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	f.write(t, "a/b/c/file.log", "x")
	var paths []string
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "find", "/a", "--suffix", ".log", "-o", "json")), &paths))
	assert.Equal(t, []string{"b/c/file.log"}, paths)

	_, err = f.run(t, nil, "rm", "/a")
	assert.True(t, errors.Is(err, syscall.EISDIR), "got %v", err)

	f.mustRun(t, "rm", "-r", "/a")
	_, err = os.Stat(filepath.Join(f.root, "a"))
	assert.True(t, os.IsNotExist(err))

	f.mustRun(t, "rm", "-f", "/never-existed")
	_, err = f.run(t, nil, "rm", "/never-existed")
	assert.True(t, errors.Is(err, syscall.ENOENT), "got %v", err)
}

func TestChecksum(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "list.txt", "one\ntwo\n")

	out := f.mustRun(t, "checksum", "-t", "md5", "/list.txt")
	assert.Equal(t, "2094b601daac3d68f5aed51d3c20f7cd  /list.txt\n", out)
}

func TestUploadDownload(t *testing.T) {
	f := newFixture(t, nil)
	local := t.TempDir()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 40000)
	src := filepath.Join(local, "src.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	f.mustRun(t, "upload", src, "/data.bin")
	got, err := os.ReadFile(filepath.Join(f.root, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	dst := filepath.Join(local, "dst.bin")
	f.mustRun(t, "download", "/data.bin", dst)
	got, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	out := f.mustRun(t, "download", "--offset", "16", "--size", "4", "/data.bin", "-")
	assert.Equal(t, "0123", out)

	out = f.mustRun(t, "download", "--offset", strconv.Itoa(len(payload)-3), "/data.bin", "-")
	assert.Equal(t, "def", out)

	_, err = f.run(t, strings.NewReader("from stdin"), "upload", "-", "/stdin.txt")
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(f.root, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(got))

	_, err = f.run(t, strings.NewReader("XY"), "upload", "--offset", "5", "-", "/stdin.txt")
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(f.root, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from XYdin", string(got))
}

func TestDownloadCompressed(t *testing.T) {
	f := newFixture(t, nil)
	content := strings.Repeat("compress me ", 1000)
	f.write(t, "big.txt", content)

	out := f.mustRun(t, "download", "--compress", "gzip", "/big.txt", "-")
	zr, err := gzip.NewReader(strings.NewReader(out))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, content, string(plain))

	_, err = f.run(t, nil, "download", "--compress", "gzip", "--offset", "1", "/big.txt", "-")
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestDownloadMissingRemovesLocalFile(t *testing.T) {
	f := newFixture(t, nil)
	dst := filepath.Join(t.TempDir(), "out")

	_, err := f.run(t, nil, "download", "/missing", dst)
	assert.True(t, errors.Is(err, syscall.ENOENT), "got %v", err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDevices(t *testing.T) {
	backing := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(backing, make([]byte, 64<<10), 0o644))
	f := newFixture(t, map[string]string{"/dev/sda": backing})

	var infos []deviceInfo
	require.NoError(t, json.Unmarshal([]byte(f.mustRun(t, "devices", "-o", "json")), &infos))
	assert.Equal(t, []deviceInfo{{Device: "/dev/sda", Size: 64 << 10, Filesystem: "unknown"}}, infos)

	assert.Contains(t, f.mustRun(t, "devices"), "64.00KiB")
}

func TestActionsNeedsNoDaemon(t *testing.T) {
	resetFlags()
	var out bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--address", "/nonexistent.sock", "--output", "table", "actions"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "upload")
	assert.Contains(t, out.String(), "cancellable,progress")
}

func TestUnreachableDaemon(t *testing.T) {
	resetFlags()
	cmd := GetRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--network", "unix", "--address", filepath.Join(t.TempDir(), "none.sock"), "ping"})
	assert.ErrorContains(t, cmd.Execute(), "cannot reach guestfsd")
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "drwxr-xr-x", modeString(0o040755))
	assert.Equal(t, "-rw-r--r--", modeString(0o100644))
	assert.Equal(t, "Lrwxrwxrwx", modeString(0o120777))
	assert.Equal(t, "urwxr-xr-x", modeString(0o104755))
}
