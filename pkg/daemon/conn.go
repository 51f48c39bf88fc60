package daemon

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/atomic"

	"github.com/marmos91/guestfsrpc/internal/logger"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

// Conn is one client connection. Calls on a connection are handled one at
// a time by the goroutine running serve.
type Conn struct {
	srv  *Server
	id   string
	peer string
	t    *guestfs.Transport
	lc   *logger.LogContext

	// verbose is set by set_verbose and raises per-call logging to INFO.
	verbose atomic.Bool

	// broken records the error that desynchronised the stream. Once set
	// the connection is closed after the current call.
	broken atomic.Error
}

func newConn(s *Server, nc net.Conn) *Conn {
	id := newConnID()
	peer := peerName(nc)
	return &Conn{
		srv:  s,
		id:   id,
		peer: peer,
		t:    guestfs.NewTransport(nc, s.maxMessage()),
		lc:   logger.NewLogContext(id, peer),
	}
}

// ID returns the connection identifier used in logs and traces.
func (c *Conn) ID() string { return c.id }

func (c *Conn) serve(ctx context.Context) {
	defer func() { _ = c.t.Close() }()
	ctx = logger.WithContext(ctx, c.lc)

	logger.DebugCtx(ctx, "Client connected")
	if err := c.t.WriteFlag(guestfs.LaunchFlag); err != nil {
		logger.DebugCtx(ctx, "Failed to send launch flag", logger.KeyError, err)
		return
	}

	for {
		fr, err := c.t.Next(ctx)
		if err != nil {
			c.logClose(ctx, err)
			return
		}

		switch fr.Kind {
		case guestfs.FrameMessage:
		case guestfs.FrameCancel:
			// Left over from a transfer that ended before the client's
			// cancel arrived.
			logger.DebugCtx(ctx, "Ignoring stray cancel flag")
			continue
		default:
			logger.WarnCtx(ctx, "Unexpected frame from client, closing connection", "frame", fr.Kind.String())
			return
		}

		if err := c.handleMessage(ctx, fr.Body); err != nil {
			logger.WarnCtx(ctx, "Closing connection", logger.KeyError, err)
			return
		}
		if err := c.broken.Load(); err != nil {
			logger.WarnCtx(ctx, "Closing connection", logger.KeyError, err)
			return
		}
	}
}

func (c *Conn) logClose(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, guestfs.ErrTransportClosed), errors.Is(err, context.Canceled):
		logger.DebugCtx(ctx, "Client disconnected")
	default:
		logger.WarnCtx(ctx, "Connection error", logger.KeyError, err)
	}
}

// breakConn marks the stream as unusable and returns err.
func (c *Conn) breakConn(err error) error {
	if c.broken.Load() == nil {
		c.broken.Store(err)
	}
	return err
}
