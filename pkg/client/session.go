// Package client is the library side of the guestfs daemon protocol. A
// Session owns one connection and runs one call at a time: it encodes the
// call, streams any upload, reads the reply while forwarding progress
// messages, and receives any download.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// Progress is one progress message received during a call.
type Progress struct {
	Action   string
	Proc     uint32
	Serial   uint32
	Position uint64
	Total    uint64

	// Dropped is how many messages of the current transfer were
	// discarded so far because its queue was full.
	Dropped uint64
}

// ProgressFunc receives progress messages. It runs on the calling
// goroutine and must not call back into the session.
type ProgressFunc func(Progress)

// Options configures a Session.
type Options struct {
	// Trace logs every call and its result at DEBUG.
	Trace bool

	// Progress is called for every progress message.
	Progress ProgressFunc

	// QueueDepth bounds the messages held per transfer between chunk
	// boundaries. 0 selects progress.DefaultQueueDepth.
	QueueDepth int

	// MaxMessageSize caps the size of messages in both directions. 0
	// selects guestfs.MessageMax.
	MaxMessageSize uint32
}

// Session is a connection to one daemon.
//
// Before Launch only ConfigOnly actions may be called; after Launch only
// the others. A transport or protocol error poisons the session: every
// later call fails with ErrSessionPoisoned.
type Session struct {
	mu sync.Mutex

	t          *guestfs.Transport
	maxMessage uint32
	progress   ProgressFunc
	queueDepth int

	serial     atomic.Uint32
	trace      atomic.Bool
	launched   atomic.Bool
	launchSeen bool
	closed     atomic.Bool
	poison     atomic.Error
}

// New wraps an established connection. The session takes ownership of
// conn.
func New(conn net.Conn, opts Options) *Session {
	limit := opts.MaxMessageSize
	if limit == 0 || limit > guestfs.MessageMax {
		limit = guestfs.MessageMax
	}
	s := &Session{
		t:          guestfs.NewTransport(conn, limit),
		maxMessage: limit,
		progress:   opts.Progress,
		queueDepth: opts.QueueDepth,
	}
	s.trace.Store(opts.Trace)
	return s
}

// Dial connects to a daemon.
func Dial(ctx context.Context, network, address string, opts Options) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return New(conn, opts), nil
}

// Launch waits for the daemon's launch flag. It returns at once if the
// flag already arrived during a ConfigOnly call.
func (s *Session) Launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if s.launched.Load() {
		return errors.New("launch: session is already launched")
	}

	for !s.launchSeen {
		fr, err := s.t.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("launch: %w", err)
			}
			return s.fail(fmt.Errorf("launch: waiting for daemon: %w", err))
		}
		switch fr.Kind {
		case guestfs.FrameLaunch:
			s.launchSeen = true
		case guestfs.FrameCancel, guestfs.FrameProgress:
		default:
			return s.fail(&ProtocolError{Action: "launch", Err: fmt.Errorf("unexpected %s before launch flag", fr.Kind)})
		}
	}
	s.launched.Store(true)
	logger.Debug("Session launched")
	return nil
}

// Launched reports whether Launch succeeded.
func (s *Session) Launched() bool { return s.launched.Load() }

// SetTrace switches call tracing on or off.
func (s *Session) SetTrace(on bool) { s.trace.Store(on) }

// Err returns the error that poisoned the session, or nil.
func (s *Session) Err() error { return s.poison.Load() }

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var result *multierror.Error
	if err := s.t.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
	}
	if err := s.poison.Load(); err != nil {
		logger.Debug("Closed poisoned session", logger.KeyError, err)
	}
	return result.ErrorOrNil()
}

// usable is checked at the start of every call.
func (s *Session) usable() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.poison.Load(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionPoisoned, err)
	}
	return nil
}

// fail poisons the session with err and returns it.
func (s *Session) fail(err error) error {
	if s.poison.Load() == nil {
		s.poison.Store(err)
	}
	return err
}

func (s *Session) deliver(action string, p guestfs.ProgressMessage, dropped uint64) {
	if s.progress == nil {
		return
	}
	s.progress(Progress{
		Action:   action,
		Proc:     p.Proc,
		Serial:   p.Serial,
		Position: p.Position,
		Total:    p.Total,
		Dropped:  dropped,
	})
}
