package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"chatd/internal/errors"
	"chatd/internal/wire"
)

// ── Listener ─────────────────────────────────────────────────────────

// TCPListener frames newline-delimited JSON over plain TCP.
type TCPListener struct {
	ln      net.Listener
	maxSize int
}

// ListenTCP binds addr.  maxSize bounds a single message line.
func ListenTCP(addr string, maxSize int) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap("listen", addr, err)
	}
	return &TCPListener{ln: ln, maxSize: maxSize}, nil
}

// Accept waits for the next TCP connection.
func (l *TCPListener) Accept() (wire.Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap("accept", l.ln.Addr().String(), err)
	}
	return wire.NewStreamConn(c, c.RemoteAddr().String(), l.maxSize), nil
}

// Close stops the listener.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// ── Dialer ───────────────────────────────────────────────────────────

// TCPDialer establishes plain TCP connections, optionally binding to a
// specific source port.
type TCPDialer struct {
	Timeout        time.Duration
	LocalPort      int // optional source-port binding (0 = ephemeral)
	MaxMessageSize int
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, address string) (wire.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.LocalPort > 0 {
		local := fmt.Sprintf(":%d", d.LocalPort)
		a, err := net.ResolveTCPAddr("tcp", local)
		if err != nil {
			return nil, fmt.Errorf("resolve local addr: %w", err)
		}
		dialer.LocalAddr = a
	}

	c, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap("dial", address, err)
	}
	return wire.NewStreamConn(c, address, d.MaxMessageSize), nil
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
