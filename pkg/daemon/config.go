package daemon

import (
	"time"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// Default server settings.
const (
	DefaultNetwork         = "unix"
	DefaultAddress         = "/run/guestfsd.sock"
	DefaultMaxConnections  = 16
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the settings of one daemon instance.
type Config struct {
	// Network is "unix" or "tcp".
	Network string

	// Address is a socket path for unix, host:port for tcp.
	Address string

	// MaxConnections bounds concurrent client connections. Connections
	// above the limit are closed right after accept.
	MaxConnections int

	// MaxMessageSize caps the length of an incoming message. 0 or a value
	// above guestfs.MessageMax selects guestfs.MessageMax.
	MaxMessageSize uint32

	// Sysroot is the host directory that guest absolute paths resolve
	// into. It plays the role of the mounted root filesystem.
	Sysroot string

	// Devices maps guest device names (/dev/sda) to backing files or host
	// block devices.
	Devices map[string]string

	// Progress controls progress message timing.
	Progress progress.NotifierConfig

	// QueueDepth is the depth of each transfer's progress event queue.
	QueueDepth int

	// Version is reported by the version action.
	Version guestfs.Version
}

// applyDefaults fills zero fields.
func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxMessageSize == 0 || c.MaxMessageSize > guestfs.MessageMax {
		c.MaxMessageSize = guestfs.MessageMax
	}
	if c.Progress.InitialDelay == 0 {
		c.Progress.InitialDelay = progress.DefaultInitialDelay
	}
	if c.Progress.Interval == 0 {
		c.Progress.Interval = progress.DefaultInterval
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = progress.DefaultQueueDepth
	}
}
