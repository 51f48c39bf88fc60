// Package daemon implements the guestfs daemon: it accepts connections,
// announces itself with the launch flag and dispatches every call to the
// implementation registered for its procedure number.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/pkg/metrics"
)

// Server is a guestfs daemon listening on one socket.
//
// Each accepted connection gets its own goroutine and runs calls strictly
// one after the other. The number of concurrent connections is bounded by
// Config.MaxConnections; connections above the limit are closed at once.
type Server struct {
	config  Config
	ns      *namespace
	metrics observer

	listener      net.Listener
	ctx           context.Context
	cancel        context.CancelFunc
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	connSemaphore chan struct{}

	active atomic.Int32
	conns  sync.Map // conn id -> *Conn
}

// NewServer creates a daemon. m may be nil to disable metrics.
func NewServer(cfg Config, m metrics.DaemonMetrics) (*Server, error) {
	cfg.applyDefaults()
	ns, err := openNamespace(cfg.Sysroot, cfg.Devices)
	if err != nil {
		return nil, err
	}
	return &Server{
		config:        cfg,
		ns:            ns,
		metrics:       observer{m: m},
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
		connSemaphore: make(chan struct{}, cfg.MaxConnections),
	}, nil
}

// Serve listens on the configured socket and blocks until ctx is cancelled
// or Stop is called. WaitReady unblocks once the listener is bound.
func (s *Server) Serve(ctx context.Context) error {
	if s.config.Network == "unix" {
		// A socket file left behind by an unclean exit would make bind fail.
		if err := os.Remove(s.config.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", s.config.Address, err)
		}
	}
	l, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.config.Network, s.config.Address, err)
	}
	return s.ServeListener(ctx, l)
}

// ServeListener serves connections accepted from l. The server takes
// ownership of l.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	select {
	case <-s.shutdown:
		// Stopped before it started.
		return l.Close()
	default:
	}
	s.listener = l
	s.ctx, s.cancel = context.WithCancel(ctx)
	close(s.listenerReady)

	logger.Info("guestfsd listening",
		"network", l.Addr().Network(),
		"address", l.Addr().String(),
		"sysroot", s.config.Sysroot,
		"devices", len(s.config.Devices),
		"max_connections", s.config.MaxConnections)

	go func() {
		select {
		case <-s.ctx.Done():
			s.closeListener()
		case <-s.shutdown:
		}
	}()

	s.wg.Add(1)
	go s.acceptLoop()
	s.wg.Wait()
	return nil
}

// WaitReady returns a channel closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				if s.ctx.Err() == nil {
					logger.Warn("Accept failed", logger.KeyError, err)
				}
			}
			return
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			logger.Warn("Connection limit reached, rejecting",
				logger.KeyPeer, peerName(nc),
				"max_connections", s.config.MaxConnections)
			s.metrics.rejected()
			_ = nc.Close()
			continue
		}

		c := newConn(s, nc)
		s.conns.Store(c.id, c)
		s.metrics.accepted(s.active.Inc())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.connSemaphore }()
			defer func() {
				s.conns.Delete(c.id)
				s.metrics.closed(s.active.Dec())
			}()
			c.serve(s.ctx)
		}()
	}
}

func (s *Server) closeListener() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// Stop closes the listener, cancels every connection and waits for them to
// finish or for timeout to pass. Errors from closing connections and the
// sysroot are returned together.
func (s *Server) Stop(timeout time.Duration) error {
	s.closeListener()
	if s.cancel != nil {
		s.cancel()
	}

	var result *multierror.Error
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.conns.Range(func(_, v any) bool {
			if err := v.(*Conn).t.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			return true
		})
		<-done
		result = multierror.Append(result, fmt.Errorf("shutdown timed out after %s", timeout))
	}

	if err := s.ns.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close sysroot: %w", err))
	}
	if s.config.Network == "unix" && s.listener != nil {
		_ = os.Remove(s.config.Address)
	}
	return result.ErrorOrNil()
}

// Addr returns the listener address, or "" before Serve.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int32 {
	return s.active.Load()
}

func peerName(nc net.Conn) string {
	if a := nc.RemoteAddr(); a != nil && a.String() != "" {
		return a.String()
	}
	return "local"
}

func newConnID() string {
	return uuid.NewString()
}

// ============================================================================
// Metrics
// ============================================================================

// observer forwards to a metrics.DaemonMetrics that may be nil.
type observer struct {
	m metrics.DaemonMetrics
}

func (o observer) callStart(action string) {
	if o.m != nil {
		o.m.RecordCallStart(action)
	}
}

func (o observer) callEnd(action string, d time.Duration, kind, errno string) {
	if o.m != nil {
		o.m.RecordCallEnd(action)
		o.m.RecordCall(action, d, kind, errno)
	}
}

func (o observer) recordBytes(action, direction string, n uint64) {
	if o.m != nil {
		o.m.RecordBytesTransferred(action, direction, n)
	}
}

func (o observer) recordCancellation(action, origin string) {
	if o.m != nil {
		o.m.RecordCancellation(action, origin)
	}
}

func (o observer) progressMessage(action string) {
	if o.m != nil {
		o.m.RecordProgressMessage(action)
	}
}

func (o observer) progressDropped(action string, n uint64) {
	if o.m != nil && n > 0 {
		o.m.RecordProgressDropped(action, n)
	}
}

func (o observer) accepted(active int32) {
	if o.m != nil {
		o.m.RecordConnectionAccepted()
		o.m.SetActiveConnections(active)
	}
}

func (o observer) closed(active int32) {
	if o.m != nil {
		o.m.RecordConnectionClosed()
		o.m.SetActiveConnections(active)
	}
}

func (o observer) rejected() {
	if o.m != nil {
		o.m.RecordConnectionRejected()
	}
}

// maxMessage is the limit applied to messages on every connection.
func (s *Server) maxMessage() uint32 {
	if s.config.MaxMessageSize == 0 {
		return guestfs.MessageMax
	}
	return s.config.MaxMessageSize
}
