// Package wire defines the message-level connection every transport
// produces, and the newline-delimited JSON codec used by stream
// transports (TCP, SSH channels).
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"chatd/internal/errors"
	"chatd/internal/message"
)

// DefaultMaxMessageSize bounds a single encoded message.
const DefaultMaxMessageSize = 64 * 1024

// Conn exchanges whole messages with one peer.  Send may be called
// concurrently with Receive; Receive is called from one goroutine only.
type Conn interface {
	Send(msg *message.Message) error
	Receive() (*message.Message, error)
	Close() error
	RemoteAddr() string
}

// Decode parses one encoded message.
func Decode(data []byte) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	return &m, nil
}

// Encode serialises msg without a trailing newline.
func Encode(msg *message.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// ── Stream codec ─────────────────────────────────────────────────────

// StreamConn frames one JSON object per line over a byte stream.
type StreamConn struct {
	rwc     io.ReadWriteCloser
	addr    string
	scanner *bufio.Scanner

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps rwc.  Lines longer than maxSize (or
// DefaultMaxMessageSize when maxSize <= 0) fail with ErrMalformedMessage.
func NewStreamConn(rwc io.ReadWriteCloser, addr string, maxSize int) *StreamConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	initial := 4096
	if maxSize < initial {
		initial = maxSize
	}
	sc := bufio.NewScanner(rwc)
	sc.Buffer(make([]byte, 0, initial), maxSize+1) // +1 for the delimiter
	return &StreamConn{rwc: rwc, addr: addr, scanner: sc}
}

// Receive blocks until the next non-blank line arrives.  A closed
// stream returns io.EOF.
func (c *StreamConn) Receive() (*message.Message, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := c.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, fmt.Errorf("%w: line exceeds limit", errors.ErrMalformedMessage)
		}
		return nil, errors.Wrap("read", c.addr, err)
	}
	return nil, io.EOF
}

// Send writes msg followed by a newline.  Writes are serialised.
func (c *StreamConn) Send(msg *message.Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rwc.Write(data); err != nil {
		return errors.Wrap("write", c.addr, err)
	}
	return nil
}

// Close closes the underlying stream once.
func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.rwc.Close() })
	return c.closeErr
}

// RemoteAddr returns the peer label given at construction.
func (c *StreamConn) RemoteAddr() string { return c.addr }
