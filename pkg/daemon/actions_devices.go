package daemon

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func doListDevices(_ context.Context, req *Request) (any, error) {
	return req.ns().deviceNames(), nil
}

// doListFilesystems probes every device for a known superblock and
// returns device/type pairs. Devices that cannot be read are reported as
// "unknown".
func doListFilesystems(_ context.Context, req *Request) (any, error) {
	ns := req.ns()
	var out guestfs.Hashtable
	for _, name := range ns.deviceNames() {
		out = append(out, name, probeFilesystem(ns.devices[name]))
	}
	if out == nil {
		out = guestfs.Hashtable{}
	}
	return out, nil
}

func doBlockdevGetsize64(_ context.Context, req *Request) (any, error) {
	t := req.Target(0)
	f, err := os.Open(t.Device)
	if err != nil {
		return nil, pathError(t.Guest, err)
	}
	defer func() { _ = f.Close() }()

	size, err := sourceSize(f)
	if err != nil {
		return nil, pathError(t.Guest, err)
	}
	return size, nil
}

// ============================================================================
// Superblock Probing
// ============================================================================

type fsMagic struct {
	name   string
	offset int64
	magic  []byte
}

var fsMagics = []fsMagic{
	{name: "ext4", offset: 1080, magic: []byte{0x53, 0xEF}},
	{name: "xfs", offset: 0, magic: []byte("XFSB")},
	{name: "btrfs", offset: 0x10040, magic: []byte("_BHRfS_M")},
	{name: "vfat", offset: 82, magic: []byte("FAT32   ")},
	{name: "swap", offset: 4086, magic: []byte("SWAPSPACE2")},
}

func probeFilesystem(backing string) string {
	f, err := os.Open(backing)
	if err != nil {
		return "unknown"
	}
	defer func() { _ = f.Close() }()

	for _, m := range fsMagics {
		buf := make([]byte, len(m.magic))
		if _, err := f.ReadAt(buf, m.offset); err != nil && err != io.EOF {
			continue
		}
		if bytes.Equal(buf, m.magic) {
			return m.name
		}
	}
	return "unknown"
}
