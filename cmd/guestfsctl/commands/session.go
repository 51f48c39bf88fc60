package commands

import (
	"context"

	"github.com/marmos91/guestfsrpc/pkg/client"
)

// sessionContext is the command context carrying the launched session.
type sessionContext struct {
	context.Context
	s *client.Session
}
