package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/bufpool"
)

// ============================================================================
// Upload
// ============================================================================

func doUpload(ctx context.Context, req *Request) (any, error) {
	return nil, receiveFile(ctx, req, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0)
}

func doUploadOffset(ctx context.Context, req *Request) (any, error) {
	offset := req.Int64(1)
	if offset < 0 {
		if err := req.FileIn.CancelReceive(); err != nil {
			return nil, err
		}
		return nil, Errorf(syscall.EINVAL, "%s: offset in file is negative", req.StringArg(0))
	}
	return nil, receiveFile(ctx, req, os.O_WRONLY|os.O_CREATE, offset)
}

// receiveFile writes the upload stream into the file named by wire
// argument 0. When the file cannot be opened or written the rest of the
// upload is discarded so the connection stays in sync.
func receiveFile(ctx context.Context, req *Request, flags int, offset int64) error {
	guest := req.StringArg(0)
	in := req.FileIn

	f, err := req.ns().root.OpenFile(req.Path(0), flags, 0o666)
	if err != nil {
		if cerr := in.CancelReceive(); cerr != nil {
			return cerr
		}
		return pathError(guest, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			if cerr := in.CancelReceive(); cerr != nil {
				return cerr
			}
			return pathError(guest, err)
		}
	}

	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = f.Close()
				if cerr := in.CancelReceive(); cerr != nil {
					return cerr
				}
				return prefixError("write error: ", pathError(guest, werr))
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = f.Close()
			return rerr
		}
	}

	if err := f.Close(); err != nil {
		return prefixError("write error: ", pathError(guest, err))
	}
	logger.DebugCtx(ctx, "Upload complete", logger.KeyPath, guest, logger.KeyBytes, in.Received())
	return nil
}

// ============================================================================
// Download
// ============================================================================

func doDownload(ctx context.Context, req *Request) (any, error) {
	src, size, err := openSource(req, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return nil, sendFile(ctx, req, src, uint64(size))
}

func doDownloadOffset(ctx context.Context, req *Request) (any, error) {
	guest := req.StringArg(0)
	offset, size := req.Int64(1), req.Int64(2)
	if offset < 0 {
		return nil, Errorf(syscall.EINVAL, "%s: offset in file is negative", guest)
	}
	if size < 0 {
		return nil, Errorf(syscall.EINVAL, "%s: size is negative", guest)
	}

	src, _, err := openSource(req, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return nil, pathError(guest, err)
	}
	return nil, sendFile(ctx, req, io.LimitReader(src, size), uint64(size))
}

// openSource opens a DevOrPath argument for reading and returns its size.
// Devices are opened on the host through the device map.
func openSource(req *Request, i int) (*os.File, int64, error) {
	t := req.Target(i)
	var (
		f   *os.File
		err error
	)
	if t.IsDevice() {
		f, err = os.Open(t.Device)
	} else {
		f, err = req.ns().root.Open(t.Rel)
	}
	if err != nil {
		return nil, 0, pathError(t.Guest, err)
	}

	size, err := sourceSize(f)
	if err != nil {
		_ = f.Close()
		return nil, 0, pathError(t.Guest, err)
	}
	return f, size, nil
}

// sourceSize returns the size of a regular file, or of a block device by
// seeking to its end.
func sourceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode().IsRegular() {
		return fi.Size(), nil
	}
	if fi.IsDir() {
		return 0, syscall.EISDIR
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

// sendFile begins the reply and streams src in chunks. Returning an error
// after Begin makes the dispatcher end the stream with a cancel chunk.
func sendFile(ctx context.Context, req *Request, src io.Reader, total uint64) error {
	out := req.FileOut
	if err := out.Begin(total); err != nil {
		return err
	}

	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			logger.WarnCtx(ctx, "Read failed during download", logger.KeyPath, req.StringArg(0), logger.KeyError, rerr)
			return pathError(req.StringArg(0), rerr)
		}
	}
	logger.DebugCtx(ctx, "Download complete", logger.KeyPath, req.StringArg(0), logger.KeyBytes, out.Sent())
	return nil
}

// ============================================================================
// Compressed Download
// ============================================================================

// doCompressOut streams a file compressed with gzip or zstd. The optional
// level is the compressor's native level.
func doCompressOut(ctx context.Context, req *Request) (any, error) {
	ctype := req.StringArg(0)
	newEncoder, err := compressor(ctype, req.OptInt(0, 0), req.HasOpt(0))
	if err != nil {
		return nil, err
	}

	guest := req.StringArg(1)
	f, err := req.ns().root.Open(req.Path(1))
	if err != nil {
		return nil, pathError(guest, err)
	}
	defer func() { _ = f.Close() }()

	out := req.FileOut
	if err := out.Begin(0); err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(out, guestfs.MaxChunkSize)
	enc, err := newEncoder(w)
	if err != nil {
		return nil, err
	}
	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(enc, readerOnly{f}, buf); err != nil {
		_ = enc.Close()
		return nil, streamError(guest, err)
	}
	if err := enc.Close(); err != nil {
		return nil, streamError(guest, err)
	}
	if err := w.Flush(); err != nil {
		return nil, streamError(guest, err)
	}
	logger.DebugCtx(ctx, "Compressed download complete", logger.KeyPath, guest, "ctype", ctype, logger.KeyBytes, out.Sent())
	return nil, nil
}

type encoderFunc func(w io.Writer) (io.WriteCloser, error)

// compressor validates a compression type and level before anything is
// sent.
func compressor(ctype string, level int32, hasLevel bool) (encoderFunc, error) {
	switch ctype {
	case "gzip":
		lvl := gzip.DefaultCompression
		if hasLevel {
			if level < gzip.BestSpeed || level > gzip.BestCompression {
				return nil, Errorf(syscall.EINVAL, "compress: gzip level must be between %d and %d", gzip.BestSpeed, gzip.BestCompression)
			}
			lvl = int(level)
		}
		return func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, lvl)
		}, nil
	case "zstd":
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
		if hasLevel {
			if level < 1 || level > 22 {
				return nil, Errorf(syscall.EINVAL, "compress: zstd level must be between 1 and 22")
			}
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))))
		}
		return func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, opts...)
		}, nil
	}
	return nil, Errorf(syscall.EINVAL, "unknown compression type %q, expecting gzip|zstd", ctype)
}

// streamError keeps ErrCancelled and connection errors as they are so the
// dispatcher can tell them from read failures.
func streamError(guest string, err error) error {
	var e *Error
	if errors.Is(err, ErrCancelled) || errors.As(err, &e) {
		return err
	}
	return pathError(guest, err)
}

// readerOnly hides WriterTo so CopyBuffer uses the pooled buffer.
type readerOnly struct{ io.Reader }

func prefixError(prefix string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Errno: e.Errno, Message: prefix + e.Message}
	}
	return fmt.Errorf("%s%w", prefix, err)
}
