package daemon

import (
	"context"
	"errors"
	"io/fs"
	"math/rand/v2"
	"path"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

const defaultMkdirMode = 0o777

// ============================================================================
// Directories and Names
// ============================================================================

func doMkdir(_ context.Context, req *Request) (any, error) {
	mode := req.OptInt(0, defaultMkdirMode)
	if err := checkMode(req.Action.Name, mode); err != nil {
		return nil, err
	}
	root := req.ns().root
	rel := req.Path(0)

	if req.OptBool(1, false) {
		if err := root.MkdirAll(rel, fileMode(mode)); err != nil {
			return nil, pathError(req.StringArg(0), err)
		}
		return nil, nil
	}
	if err := root.Mkdir(rel, fileMode(mode)); err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return nil, nil
}

// doRm removes a file, or a whole tree when recursive is set. Directories
// are refused without recursive. force makes a missing path succeed.
func doRm(_ context.Context, req *Request) (any, error) {
	force := req.OptBool(0, false)
	recursive := req.OptBool(1, false)
	root := req.ns().root
	rel, guest := req.Path(0), req.StringArg(0)

	if rel == "." {
		return nil, Errorf(syscall.EBUSY, "%s: cannot remove the root directory", guest)
	}

	fi, err := root.Lstat(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist) && force:
		return nil, nil
	case err != nil:
		return nil, pathError(guest, err)
	}

	if recursive {
		if err := root.RemoveAll(rel); err != nil {
			return nil, pathError(guest, err)
		}
		return nil, nil
	}
	if fi.IsDir() {
		return nil, Errorf(syscall.EISDIR, "%s: %s", guest, syscall.EISDIR.Error())
	}
	if err := root.Remove(rel); err != nil {
		return nil, pathError(guest, err)
	}
	return nil, nil
}

func doTouch(_ context.Context, req *Request) (any, error) {
	root := req.ns().root
	rel, guest := req.Path(0), req.StringArg(0)

	if _, err := root.Lstat(rel); errors.Is(err, fs.ErrNotExist) {
		f, err := root.Create(rel)
		if err != nil {
			return nil, pathError(guest, err)
		}
		if err := f.Close(); err != nil {
			return nil, pathError(guest, err)
		}
	} else if err != nil {
		return nil, pathError(guest, err)
	}

	now := time.Now()
	if err := root.Chtimes(rel, now, now); err != nil {
		return nil, pathError(guest, err)
	}
	return nil, nil
}

func doLs(_ context.Context, req *Request) (any, error) {
	entries, err := fs.ReadDir(req.ns().root.FS(), req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func doReaddir(_ context.Context, req *Request) (any, error) {
	entries, err := fs.ReadDir(req.ns().root.FS(), req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	out := make([]guestfs.Dirent, 0, len(entries))
	for _, e := range entries {
		d := guestfs.Dirent{Ino: -1, Ftyp: direntType(e.Type()), Name: e.Name()}
		if info, err := e.Info(); err == nil {
			d.Ino = statOf(info).Ino
		} else {
			d.Ftyp = '?'
		}
		out = append(out, d)
	}
	return out, nil
}

func doChmod(_ context.Context, req *Request) (any, error) {
	mode := req.Int(0)
	if err := checkMode(req.Action.Name, mode); err != nil {
		return nil, err
	}
	if err := req.ns().root.Chmod(req.Path(1), fileMode(mode)); err != nil {
		return nil, pathError(req.StringArg(1), err)
	}
	return nil, nil
}

func doRename(_ context.Context, req *Request) (any, error) {
	if err := req.ns().root.Rename(req.Path(0), req.Path(1)); err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return nil, nil
}

func doReadlink(_ context.Context, req *Request) (any, error) {
	target, err := req.ns().root.Readlink(req.Path(0))
	if err != nil {
		return nil, pathError(req.StringArg(0), err)
	}
	return target, nil
}

func doLnS(_ context.Context, req *Request) (any, error) {
	if err := req.ns().root.Symlink(req.StringArg(0), req.Path(1)); err != nil {
		return nil, pathError(req.StringArg(1), err)
	}
	return nil, nil
}

// ============================================================================
// Temporary Directories and Search
// ============================================================================

const (
	tempSuffix   = "XXXXXX"
	tempAttempts = 100
	tempLetters  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func doMkdtemp(_ context.Context, req *Request) (any, error) {
	guest, rel := req.StringArg(0), req.Path(0)
	if !strings.HasSuffix(guest, tempSuffix) || !strings.HasSuffix(rel, tempSuffix) {
		return nil, Errorf(syscall.EINVAL, "%s: template must end with %s", guest, tempSuffix)
	}
	guestBase := guest[:len(guest)-len(tempSuffix)]
	relBase := rel[:len(rel)-len(tempSuffix)]

	for range tempAttempts {
		suffix := randomSuffix()
		err := req.ns().root.Mkdir(relBase+suffix, 0o700)
		if err == nil {
			return guestBase + suffix, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, pathError(guest, err)
		}
	}
	return nil, Errorf(syscall.EEXIST, "%s: %s", guest, syscall.EEXIST.Error())
}

func randomSuffix() string {
	b := make([]byte, len(tempSuffix))
	for i := range b {
		b[i] = tempLetters[rand.IntN(len(tempLetters))]
	}
	return string(b)
}

// doFind lists every entry below a directory as a path relative to it,
// sorted. With suffix set only names ending in it are kept.
func doFind(_ context.Context, req *Request) (any, error) {
	rel, guest := req.Path(0), req.StringArg(0)
	suffix, filter := req.OptString(1)
	fsys := req.ns().root.FS()

	fi, err := fs.Stat(fsys, rel)
	if err != nil {
		return nil, pathError(guest, err)
	}
	if !fi.IsDir() {
		return nil, Errorf(syscall.ENOTDIR, "%s: %s", guest, syscall.ENOTDIR.Error())
	}

	var out []string
	err = fs.WalkDir(fsys, rel, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == rel {
			return nil
		}
		name := p
		if rel != "." {
			name = strings.TrimPrefix(p, rel+"/")
		}
		if filter && !strings.HasSuffix(name, suffix) {
			return nil
		}
		out = append(out, name)
		return nil
	})
	if err != nil {
		return nil, pathError(guest, err)
	}
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// validName accepts a single path component.
func validName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

// joinRel joins a root-relative directory and a component.
func joinRel(dir, name string) string {
	return path.Join(dir, name)
}
