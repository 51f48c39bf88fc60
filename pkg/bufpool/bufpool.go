// Package bufpool provides a tiered buffer pool for file transfer and
// message buffers.
//
// Both ends of a guestfs connection move file payloads in chunks of at most
// 8 KiB and build reply bodies that are usually small but may reach the
// protocol's 4 MiB message limit. The pool keeps three size classes:
//   - Chunk buffers (default 8KB): one file chunk
//   - Medium buffers (default 64KB): directory listings, small reads
//   - Large buffers (default 1MB): pread and read_file results
//
// Buffers larger than the large tier are allocated directly and not pooled.
//
// # Usage
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
//	// ... use buf ...
package bufpool

import (
	"sync"
)

// Default buffer size classes.
const (
	// DefaultChunkSize matches the protocol's maximum file chunk.
	DefaultChunkSize = 8 << 10

	DefaultMediumSize = 64 << 10

	DefaultLargeSize = 1 << 20
)

// Pool manages byte slice pools organized by size class.
type Pool struct {
	chunk      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	chunkSize  int
	mediumSize int
	largeSize  int
}

// Config holds the size classes of a custom pool. Zero values select the
// defaults.
type Config struct {
	ChunkSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  DefaultChunkSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a buffer pool. A nil cfg uses DefaultConfig.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.ChunkSize > 0 {
			c.ChunkSize = cfg.ChunkSize
		}
		if cfg.MediumSize > 0 {
			c.MediumSize = cfg.MediumSize
		}
		if cfg.LargeSize > 0 {
			c.LargeSize = cfg.LargeSize
		}
	}

	p := &Pool{
		chunkSize:  c.ChunkSize,
		mediumSize: c.MediumSize,
		largeSize:  c.LargeSize,
	}
	p.chunk.New = newBuf(p.chunkSize)
	p.medium.New = newBuf(p.mediumSize)
	p.large.New = newBuf(p.largeSize)
	return p
}

func newBuf(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// Get returns a byte slice of length size. Its capacity is the size class
// it came from. Sizes above the large class are allocated directly.
//
// The caller must call Put when finished with the buffer.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.chunkSize:
		bufPtr = p.chunk.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer obtained from Get. Buffers whose capacity does not
// match a size class are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.chunkSize:
		p.chunk.Put(&full)
	case p.mediumSize:
		p.medium.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Get returns a buffer from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GetChunk returns a buffer of exactly one file chunk.
func GetChunk() []byte {
	return globalPool.Get(DefaultChunkSize)
}
