package daemon

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/marmos91/guestfsrpc/pkg/action"
)

// ============================================================================
// Guest Namespace
// ============================================================================

// namespace maps guest names onto the host: absolute guest paths resolve
// inside the sysroot through an *os.Root, so symlinks and ".." can never
// leave it, and /dev/ names resolve through the device map.
type namespace struct {
	dir     string
	root    *os.Root
	devices map[string]string
}

// openNamespace opens the sysroot. An empty dir leaves the namespace
// without a root filesystem: path arguments are then rejected, device
// arguments still work.
func openNamespace(dir string, devices map[string]string) (*namespace, error) {
	ns := &namespace{dir: dir, devices: make(map[string]string, len(devices))}
	for name, backing := range devices {
		if !strings.HasPrefix(name, "/dev/") {
			return nil, fmt.Errorf("device %q: name must start with /dev/", name)
		}
		ns.devices[name] = backing
	}
	if dir == "" {
		return ns, nil
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open sysroot: %w", err)
	}
	ns.root = root
	return ns, nil
}

func (ns *namespace) Close() error {
	if ns.root == nil {
		return nil
	}
	return ns.root.Close()
}

// deviceNames returns the guest device names in sorted order.
func (ns *namespace) deviceNames() []string {
	names := make([]string, 0, len(ns.devices))
	for name := range ns.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// hostPath returns the host location of a root-relative name. Only for
// calls that have no *os.Root equivalent (statfs); everything else goes
// through ns.root.
func (ns *namespace) hostPath(rel string) string {
	return filepath.Join(ns.dir, filepath.FromSlash(rel))
}

// ============================================================================
// Argument Resolution
// ============================================================================

// Resolved is a resolved Pathname, Device or DevOrPath argument.
type Resolved struct {
	// Guest is the value the client sent.
	Guest string

	// Rel is the root-relative name of a path, "." for "/". Empty for
	// devices.
	Rel string

	// Device is the host backing file of a device. Empty for paths.
	Device string
}

// IsDevice reports whether the target names a device.
func (t Resolved) IsDevice() bool { return t.Device != "" }

// resolvePath validates an absolute guest path and maps it into the
// sysroot.
func (ns *namespace) resolvePath(fn, p string) (Resolved, error) {
	if ns.root == nil {
		return Resolved{}, Errorf(0, "%s: you must call 'mount' first to mount the root filesystem", fn)
	}
	if !strings.HasPrefix(p, "/") {
		return Resolved{}, Errorf(0, "%s: path must start with a / character", fn)
	}
	rel := strings.TrimPrefix(path.Clean(p), "/")
	if rel == "" {
		rel = "."
	}
	return Resolved{Guest: p, Rel: rel}, nil
}

// resolveDevice checks that dev names a configured device.
func (ns *namespace) resolveDevice(fn, dev string) (Resolved, error) {
	if !strings.HasPrefix(dev, "/dev/") {
		return Resolved{}, Errorf(0, "%s: %s: expecting a device name", fn, dev)
	}
	backing, ok := ns.devices[dev]
	if !ok {
		return Resolved{}, Errorf(syscall.ENOENT, "%s: %s: %s", fn, dev, syscall.ENOENT.Error())
	}
	return Resolved{Guest: dev, Device: backing}, nil
}

// resolveDevOrPath resolves a device if the value starts with /dev/ and a
// path otherwise.
func (ns *namespace) resolveDevOrPath(fn, v string) (Resolved, error) {
	if strings.HasPrefix(v, "/dev/") {
		return ns.resolveDevice(fn, v)
	}
	return ns.resolvePath(fn, v)
}

// resolveArgs resolves every path-like wire argument of a call. The
// returned map is keyed by wire argument index.
func (ns *namespace) resolveArgs(d *action.Descriptor, wire []action.ArgSpec, args []any) (map[int]Resolved, error) {
	var out map[int]Resolved
	for i, spec := range wire {
		var resolve func(fn, v string) (Resolved, error)
		switch spec.Kind {
		case action.Pathname:
			resolve = ns.resolvePath
		case action.Device:
			resolve = ns.resolveDevice
		case action.DevOrPath:
			resolve = ns.resolveDevOrPath
		default:
			continue
		}
		s, _ := args[i].(string)
		t, err := resolve(d.Name, s)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[int]Resolved)
		}
		out[i] = t
	}
	return out, nil
}
