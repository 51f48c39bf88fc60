package client

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/action"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// Result structs of the built-in actions.
type (
	Stat    = guestfs.Stat
	StatVFS = guestfs.StatVFS
	Dirent  = guestfs.Dirent
	Version = guestfs.Version
)

// ============================================================================
// Optional Arguments
// ============================================================================
//
// A nil field leaves the optional argument out of the call.

// MkdirOpts are the optional arguments of Mkdir.
type MkdirOpts struct {
	Mode    *int32
	Parents *bool
}

// RmOpts are the optional arguments of Rm.
type RmOpts struct {
	Force     *bool
	Recursive *bool
}

// TypeOpts are the optional arguments of IsDir and IsFile.
type TypeOpts struct {
	FollowSymlinks *bool
}

// CompressOpts are the optional arguments of CompressOut.
type CompressOpts struct {
	Level *int32
}

// Ptr returns a pointer to v, for filling option structs.
func Ptr[T any](v T) *T { return &v }

func opt[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// TransferOpts controls an upload or download.
type TransferOpts struct {
	// Cancel stops the transfer at the next chunk boundary.
	Cancel *progress.CancelToken

	// Size is announced to the daemon for progress on uploads.
	Size int64
}

// ============================================================================
// Typed Calls
// ============================================================================

// callAs runs a built-in action and converts its result.
func callAs[T any](ctx context.Context, s *Session, name string, args []any, opts ...any) (T, error) {
	var zero T
	d := action.MustLookup(name)
	v, err := s.Call(ctx, Request{Action: d, Args: args, OptArgs: opts})
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, &ProtocolError{Action: name, Err: fmt.Errorf("unexpected result type %T", v)}
	}
	return out, nil
}

func callNone(ctx context.Context, s *Session, name string, args []any, opts ...any) error {
	_, err := s.Call(ctx, Request{Action: action.MustLookup(name), Args: args, OptArgs: opts})
	return err
}

// Ping checks that the daemon answers.
func (s *Session) Ping(ctx context.Context) error {
	return callNone(ctx, s, "ping_daemon", nil)
}

// SetVerbose turns on per-connection debug logging in the daemon. It must
// be called before Launch.
func (s *Session) SetVerbose(ctx context.Context, on bool) error {
	return callNone(ctx, s, "set_verbose", []any{on})
}

// Version returns the daemon version.
func (s *Session) Version(ctx context.Context) (*Version, error) {
	return callAs[*Version](ctx, s, "version", nil)
}

// Stat returns file information, following symlinks.
func (s *Session) Stat(ctx context.Context, path string) (*Stat, error) {
	return callAs[*Stat](ctx, s, "stat", []any{path})
}

// Lstat returns file information without following symlinks.
func (s *Session) Lstat(ctx context.Context, path string) (*Stat, error) {
	return callAs[*Stat](ctx, s, "lstat", []any{path})
}

// LstatList lstats names inside dir. Entries that do not exist have Ino
// set to -1.
func (s *Session) LstatList(ctx context.Context, dir string, names []string) ([]Stat, error) {
	return callAs[[]Stat](ctx, s, "lstatlist", []any{dir, names})
}

// StatVFS returns filesystem statistics for the filesystem holding path.
func (s *Session) StatVFS(ctx context.Context, path string) (*StatVFS, error) {
	return callAs[*StatVFS](ctx, s, "statvfs", []any{path})
}

func (s *Session) Exists(ctx context.Context, path string) (bool, error) {
	return callAs[bool](ctx, s, "exists", []any{path})
}

func (s *Session) IsDir(ctx context.Context, path string, o TypeOpts) (bool, error) {
	return callAs[bool](ctx, s, "is_dir", []any{path}, opt(o.FollowSymlinks))
}

func (s *Session) IsFile(ctx context.Context, path string, o TypeOpts) (bool, error) {
	return callAs[bool](ctx, s, "is_file", []any{path}, opt(o.FollowSymlinks))
}

func (s *Session) Filesize(ctx context.Context, path string) (int64, error) {
	return callAs[int64](ctx, s, "filesize", []any{path})
}

// Mkdir creates a directory. Mode defaults to 0777 before umask.
func (s *Session) Mkdir(ctx context.Context, path string, o MkdirOpts) error {
	return callNone(ctx, s, "mkdir", []any{path}, opt(o.Mode), opt(o.Parents))
}

// Rm removes a file, or a tree with Recursive.
func (s *Session) Rm(ctx context.Context, path string, o RmOpts) error {
	return callNone(ctx, s, "rm", []any{path}, opt(o.Force), opt(o.Recursive))
}

func (s *Session) Touch(ctx context.Context, path string) error {
	return callNone(ctx, s, "touch", []any{path})
}

// Ls lists the names in a directory, sorted.
func (s *Session) Ls(ctx context.Context, dir string) ([]string, error) {
	return callAs[[]string](ctx, s, "ls", []any{dir})
}

func (s *Session) Readdir(ctx context.Context, dir string) ([]Dirent, error) {
	return callAs[[]Dirent](ctx, s, "readdir", []any{dir})
}

func (s *Session) Chmod(ctx context.Context, mode int32, path string) error {
	return callNone(ctx, s, "chmod", []any{mode, path})
}

func (s *Session) Rename(ctx context.Context, oldpath, newpath string) error {
	return callNone(ctx, s, "rename", []any{oldpath, newpath})
}

func (s *Session) Readlink(ctx context.Context, path string) (string, error) {
	return callAs[string](ctx, s, "readlink", []any{path})
}

// LnS creates a symbolic link at linkname pointing to target.
func (s *Session) LnS(ctx context.Context, target, linkname string) error {
	return callNone(ctx, s, "ln_s", []any{target, linkname})
}

func (s *Session) Cat(ctx context.Context, path string) (string, error) {
	return callAs[string](ctx, s, "cat", []any{path})
}

// ReadFile returns the whole content of a file. The file must fit in one
// message.
func (s *Session) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return callAs[[]byte](ctx, s, "read_file", []any{path})
}

func (s *Session) Write(ctx context.Context, path string, content []byte) error {
	return callNone(ctx, s, "write", []any{path, content})
}

func (s *Session) WriteAppend(ctx context.Context, path string, content []byte) error {
	return callNone(ctx, s, "write_append", []any{path, content})
}

// Pread reads up to count bytes at offset. The result is shorter at end of
// file, and never nil.
func (s *Session) Pread(ctx context.Context, path string, count int32, offset int64) ([]byte, error) {
	return callAs[[]byte](ctx, s, "pread", []any{path, count, offset})
}

// Checksum returns the hex digest of a file. csumtype is one of md5,
// sha1, sha224, sha256, sha384 or sha512.
func (s *Session) Checksum(ctx context.Context, csumtype, path string) (string, error) {
	return callAs[string](ctx, s, "checksum", []any{csumtype, path})
}

// ============================================================================
// Transfers
// ============================================================================

// Upload copies r into remote, replacing it.
func (s *Session) Upload(ctx context.Context, r io.Reader, remote string, o TransferOpts) error {
	_, err := s.Call(ctx, Request{
		Action:     action.MustLookup("upload"),
		Args:       []any{remote},
		FileIn:     r,
		FileInSize: o.Size,
		Cancel:     o.Cancel,
	})
	return err
}

// UploadOffset writes r into remote starting at offset, without
// truncating it.
func (s *Session) UploadOffset(ctx context.Context, r io.Reader, remote string, offset int64, o TransferOpts) error {
	_, err := s.Call(ctx, Request{
		Action:     action.MustLookup("upload_offset"),
		Args:       []any{remote, offset},
		FileIn:     r,
		FileInSize: o.Size,
		Cancel:     o.Cancel,
	})
	return err
}

// Download copies a file or device into w.
func (s *Session) Download(ctx context.Context, remote string, w io.Writer, o TransferOpts) error {
	_, err := s.Call(ctx, Request{
		Action:  action.MustLookup("download"),
		Args:    []any{remote},
		FileOut: w,
		Cancel:  o.Cancel,
	})
	return err
}

// DownloadOffset copies size bytes of remote starting at offset into w.
func (s *Session) DownloadOffset(ctx context.Context, remote string, offset, size int64, w io.Writer, o TransferOpts) error {
	_, err := s.Call(ctx, Request{
		Action:  action.MustLookup("download_offset"),
		Args:    []any{remote, offset, size},
		FileOut: w,
		Cancel:  o.Cancel,
	})
	return err
}

// CompressOut downloads a file compressed with ctype (gzip or zstd).
func (s *Session) CompressOut(ctx context.Context, ctype, path string, w io.Writer, o CompressOpts) error {
	_, err := s.Call(ctx, Request{
		Action:  action.MustLookup("compress_out"),
		Args:    []any{ctype, path},
		OptArgs: []any{opt(o.Level)},
		FileOut: w,
	})
	return err
}

// ============================================================================
// Devices and Search
// ============================================================================

func (s *Session) ListDevices(ctx context.Context) ([]string, error) {
	return callAs[[]string](ctx, s, "list_devices", nil)
}

// ListFilesystems maps each device to the filesystem type found on it.
func (s *Session) ListFilesystems(ctx context.Context) (map[string]string, error) {
	h, err := callAs[guestfs.Hashtable](ctx, s, "list_filesystems", nil)
	if err != nil {
		return nil, err
	}
	return h.Map(), nil
}

func (s *Session) BlockdevGetsize64(ctx context.Context, device string) (int64, error) {
	return callAs[int64](ctx, s, "blockdev_getsize64", []any{device})
}

// Mkdtemp creates a directory from a template ending in XXXXXX and
// returns its name.
func (s *Session) Mkdtemp(ctx context.Context, tmpl string) (string, error) {
	return callAs[string](ctx, s, "mkdtemp", []any{tmpl})
}

// Find lists every entry below dir relative to it, sorted. A non-nil
// suffix keeps only names ending in it.
func (s *Session) Find(ctx context.Context, dir string, suffix *string) ([]string, error) {
	return callAs[[]string](ctx, s, "find", []any{dir, suffix})
}
