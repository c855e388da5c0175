// Package client speaks the chat protocol from the client side: it
// answers the name handshake and sends broadcasts, private messages and
// listing requests over any transport.Dialer.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatd/internal/errors"
	"chatd/internal/message"
	"chatd/internal/transport"
	"chatd/internal/wire"
)

// Client is one chat participant.  Receive must be called from one
// goroutine; the send methods may be called concurrently with it.
type Client struct {
	conn wire.Conn

	mu        sync.Mutex
	name      string
	requested bool // the server's name request has been consumed
}

// New wraps an established connection.
func New(conn wire.Conn) *Client {
	return &Client{conn: conn}
}

// Dial connects through d.
func Dial(ctx context.Context, d transport.Dialer, address string) (*Client, error) {
	conn, err := d.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}
	return New(conn), nil
}

// Join proposes name.  It returns ErrNameRejected when the server asks
// for another name; Join may then be called again on the same client.
func (c *Client) Join(name string) error {
	c.mu.Lock()
	requested := c.requested
	c.mu.Unlock()

	if !requested {
		m, err := c.conn.Receive()
		if err != nil {
			return err
		}
		if !m.IsSystem() || m.Content() != message.NameRequest {
			return fmt.Errorf("%w: expected name request, got %q", errors.ErrUnexpectedMessage, m.Content())
		}
		c.mu.Lock()
		c.requested = true
		c.mu.Unlock()
	}

	if err := c.conn.Send(message.New(name, "", name)); err != nil {
		return err
	}

	reply, err := c.conn.Receive()
	if err != nil {
		return err
	}
	switch {
	case reply.IsSystem() && strings.HasPrefix(reply.Content(), message.WelcomePrefix):
		c.mu.Lock()
		c.name = name
		c.mu.Unlock()
		return nil
	case reply.IsSystem() && strings.HasPrefix(reply.Content(), message.NameRejectedPrefix):
		return errors.ErrNameRejected
	case reply.IsSystem() && reply.Content() == message.TooManyAttempts:
		return errors.ErrHandshakeAttempts
	}
	return fmt.Errorf("%w: %q during handshake", errors.ErrUnexpectedMessage, reply.Content())
}

// Name returns the accepted display name, or "" before Join succeeds.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Broadcast sends text to everyone else.
func (c *Client) Broadcast(text string) error {
	return c.conn.Send(message.New(c.Name(), "", text))
}

// Private sends text to one user.
func (c *Client) Private(to, text string) error {
	return c.conn.Send(message.New(c.Name(), to, message.PrivatePrefix+text))
}

// ListUsers asks the server for the connected-user listing.  The answer
// arrives through Receive.
func (c *Client) ListUsers() error {
	return c.conn.Send(message.New(c.Name(), "", message.ListUsersCommand))
}

// Receive blocks for the next message from the server.
func (c *Client) Receive() (*message.Message, error) {
	return c.conn.Receive()
}

// Close hangs up.
func (c *Client) Close() error {
	return c.conn.Close()
}
