package daemon

import (
	"context"
	"errors"
	"io/fs"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// ============================================================================
// Daemon
// ============================================================================

func doPingDaemon(context.Context, *Request) (any, error) {
	return nil, nil
}

func doSetVerbose(ctx context.Context, req *Request) (any, error) {
	on := req.Bool(0)
	req.conn.verbose.Store(on)
	logger.InfoCtx(ctx, "Verbose logging changed", "verbose", on)
	return nil, nil
}

func doVersion(_ context.Context, req *Request) (any, error) {
	v := req.conn.srv.config.Version
	return &v, nil
}

// ============================================================================
// File Information
// ============================================================================

func doStat(_ context.Context, req *Request) (any, error) {
	fi, err := req.ns().root.Stat(req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	st := statOf(fi)
	return &st, nil
}

func doLstat(_ context.Context, req *Request) (any, error) {
	fi, err := req.ns().root.Lstat(req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	st := statOf(fi)
	return &st, nil
}

// doLstatList lstats every name inside a directory. Names that cannot be
// stat'ed come back with Ino -1 instead of failing the whole call.
func doLstatList(_ context.Context, req *Request) (any, error) {
	dir := req.Path(0)
	names := req.Strings(1)
	root := req.ns().root

	if fi, err := root.Stat(dir); err != nil {
		return nil, pathError(req.StringArg(0), err)
	} else if !fi.IsDir() {
		return nil, Errorf(0, "%s: not a directory", req.StringArg(0))
	}

	out := make([]guestfs.Stat, len(names))
	for i, name := range names {
		if !validName(name) {
			out[i] = guestfs.Stat{Ino: -1}
			continue
		}
		fi, err := root.Lstat(joinRel(dir, name))
		if err != nil {
			out[i] = guestfs.Stat{Ino: -1}
			continue
		}
		out[i] = statOf(fi)
	}
	return out, nil
}

func doStatVFS(_ context.Context, req *Request) (any, error) {
	// statfs has no *os.Root form; stat first so a path escaping the
	// sysroot through a symlink is refused.
	if _, err := req.ns().root.Stat(req.Path(0)); err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	st, err := statVFS(req.ns().hostPath(req.Path(0)))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return &st, nil
}

func doExists(_ context.Context, req *Request) (any, error) {
	_, err := req.ns().root.Stat(req.Path(0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return nil, pathError(req.StringArg(0), err)
}

func doIsDir(_ context.Context, req *Request) (any, error) {
	return checkType(req, fs.ModeDir)
}

func doIsFile(_ context.Context, req *Request) (any, error) {
	return checkType(req, 0)
}

// checkType reports whether the path has file type want. A missing path is
// false, not an error. Symlinks are not followed unless followsymlinks is
// set.
func checkType(req *Request, want fs.FileMode) (any, error) {
	root := req.ns().root
	stat := root.Lstat
	if req.OptBool(0, false) {
		stat = root.Stat
	}
	fi, err := stat(req.Path(0))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return nil, pathError(req.StringArg(0), err)
	}
	return fi.Mode().Type() == want, nil
}

func doFilesize(_ context.Context, req *Request) (any, error) {
	fi, err := req.ns().root.Stat(req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return fi.Size(), nil
}

// statFromInfo fills what fs.FileInfo carries when the platform stat
// structure is not available.
func statFromInfo(fi fs.FileInfo) guestfs.Stat {
	mtime := fi.ModTime().Unix()
	return guestfs.Stat{
		Mode:    int64(unixMode(fi.Mode())),
		Nlink:   1,
		Size:    fi.Size(),
		Blksize: 4096,
		Blocks:  (fi.Size() + 511) / 512,
		Atime:   mtime,
		Mtime:   mtime,
		Ctime:   mtime,
	}
}
