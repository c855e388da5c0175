// Package transport produces message-level connections (wire.Conn) for
// the relay.  Listeners accept them on the server side; dialers open
// them on the client side.  Plain TCP, SSH session channels and
// WebSocket are supported, and all of them look the same to a session.
package transport

import (
	"context"
	"net"

	"chatd/internal/wire"
)

// Listener accepts inbound chat connections.
type Listener interface {
	// Accept blocks until a connection arrives.  After Close it returns
	// an error for which errors.IsClosed reports true.
	Accept() (wire.Conn, error)

	// Close stops accepting.  Connections already returned by Accept
	// are not affected.
	Close() error

	// Addr returns the bound address.
	Addr() net.Addr
}

// Dialer opens outbound chat connections.
type Dialer interface {
	// Dial establishes a connection to address.
	Dial(ctx context.Context, address string) (wire.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
