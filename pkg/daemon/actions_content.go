package daemon

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"syscall"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/bufpool"
)

// replyOverhead is reserved in a reply for the header and the length word
// of a buffer or string return.
const replyOverhead = guestfs.HeaderSize + 4

// ============================================================================
// Whole-File Access
// ============================================================================

func doCat(_ context.Context, req *Request) (any, error) {
	b, err := readWhole(req, 0)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func doReadFile(_ context.Context, req *Request) (any, error) {
	return readWhole(req, 0)
}

// readWhole reads Pathname argument i. Files that cannot fit in one reply
// are refused before reading.
func readWhole(req *Request, i int) ([]byte, error) {
	guest := req.StringArg(i)
	f, err := req.ns().root.Open(req.Path(i))
	if err != nil {
		return nil, pathError(guest, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, pathError(guest, err)
	}
	if fi.IsDir() {
		return nil, Errorf(syscall.EISDIR, "%s: %s", guest, syscall.EISDIR.Error())
	}
	limit := int64(req.conn.srv.maxMessage()) - replyOverhead
	if fi.Size() > limit {
		return nil, Errorf(0, "%s: file is too large for message buffer", guest)
	}

	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, pathError(guest, err)
	}
	if int64(len(b)) > limit {
		return nil, Errorf(0, "%s: file is too large for message buffer", guest)
	}
	return b, nil
}

func doWrite(_ context.Context, req *Request) (any, error) {
	if err := req.ns().root.WriteFile(req.Path(0), req.Buffer(1), 0o666); err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return nil, nil
}

func doWriteAppend(_ context.Context, req *Request) (any, error) {
	guest := req.StringArg(0)
	f, err := req.ns().root.OpenFile(req.Path(0), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		return nil, pathError(guest, err)
	}
	if _, err := f.Write(req.Buffer(1)); err != nil {
		_ = f.Close()
		return nil, pathError(guest, err)
	}
	if err := f.Close(); err != nil {
		return nil, pathError(guest, err)
	}
	return nil, nil
}

// doPread reads up to count bytes at offset. A short read at end of file is
// not an error; the result is then shorter than count, possibly empty.
func doPread(_ context.Context, req *Request) (any, error) {
	guest := req.StringArg(0)
	count, offset := req.Int(1), req.Int64(2)
	switch {
	case count < 0:
		return nil, Errorf(syscall.EINVAL, "%s: count is negative", guest)
	case offset < 0:
		return nil, Errorf(syscall.EINVAL, "%s: offset is negative", guest)
	case int64(count) > int64(req.conn.srv.maxMessage())-replyOverhead:
		return nil, Errorf(syscall.EINVAL, "%s: count is too large for the protocol, use smaller reads", guest)
	}

	f, err := req.ns().root.Open(req.Path(0))
	if err != nil {
		return nil, pathError(guest, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, count)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, pathError(guest, err)
	}
	return buf[:n], nil
}

// ============================================================================
// Checksums
// ============================================================================

var checksums = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

func doChecksum(_ context.Context, req *Request) (any, error) {
	newHash, ok := checksums[req.StringArg(0)]
	if !ok {
		return nil, Errorf(syscall.EINVAL, "unknown checksum type, expecting md5|sha1|sha224|sha256|sha384|sha512")
	}
	guest := req.StringArg(1)
	f, err := req.ns().root.Open(req.Path(1))
	if err != nil {
		return nil, pathError(guest, err)
	}
	defer func() { _ = f.Close() }()

	h := newHash()
	buf := bufpool.Get(bufpool.DefaultMediumSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return nil, pathError(guest, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
