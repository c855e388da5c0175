package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatd/internal/errors"
	"chatd/internal/message"
	"chatd/internal/wire"
	"chatd/util"
)

const wsCloseWait = time.Second

// ── Listener ─────────────────────────────────────────────────────────

// WSListener upgrades HTTP requests on one path to WebSocket and
// carries one JSON message per text frame.
type WSListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	maxSize  int
	logger   *util.Logger

	conns     chan wire.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWebSocket binds addr and serves upgrades on path.
func ListenWebSocket(addr, path string, origins []string, maxSize int, logger *util.Logger) (*WSListener, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if maxSize <= 0 {
		maxSize = wire.DefaultMaxMessageSize
	}
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap("listen", addr, err)
	}

	l := &WSListener{
		ln:      ln,
		maxSize: maxSize,
		logger:  logger,
		conns:   make(chan wire.Conn),
		done:    make(chan struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(origins, logger).check,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handle)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket server: %v", err)
		}
	}()
	return l, nil
}

func (l *WSListener) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.logger.Verbose("websocket: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(int64(l.maxSize))

	conn := newWSConn(ws, r.RemoteAddr)
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept returns the next upgraded connection.
func (l *WSListener) Accept() (wire.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, errors.ErrListenerClosed
	}
}

// Close stops the HTTP server.  Upgraded connections are hijacked and
// stay open.
func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the bound address.
func (l *WSListener) Addr() net.Addr { return l.ln.Addr() }

// ── Connection ───────────────────────────────────────────────────────

type wsConn struct {
	ws   *websocket.Conn
	addr string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, addr string) *wsConn {
	return &wsConn{ws: ws, addr: addr}
}

func (c *wsConn) Receive() (*message.Message, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.readError(err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		return wire.Decode(data)
	}
}

func (c *wsConn) readError(err error) error {
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		return io.EOF
	case errors.Is(err, websocket.ErrReadLimit):
		return fmt.Errorf("%w: frame exceeds limit", errors.ErrMalformedMessage)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	}
	return errors.Wrap("read", c.addr, err)
}

func (c *wsConn) Send(msg *message.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap("write", c.addr, err)
	}
	return nil
}

// Close sends a close frame (best effort) and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(wsCloseWait)) //nolint:errcheck
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string { return c.addr }

// ── Dialer ───────────────────────────────────────────────────────────

// WSDialer connects to a WebSocket listener.  Dial's address is a full
// ws:// or wss:// URL.
type WSDialer struct {
	Timeout        time.Duration
	Origin         string // optional Origin header
	MaxMessageSize int
}

// Dial opens the WebSocket.
func (d *WSDialer) Dial(ctx context.Context, address string) (wire.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.Timeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	var header http.Header
	if d.Origin != "" {
		header = http.Header{"Origin": []string{d.Origin}}
	}

	ws, resp, err := dialer.DialContext(ctx, address, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, errors.Wrap("dial", address, err)
	}
	if d.MaxMessageSize > 0 {
		ws.SetReadLimit(int64(d.MaxMessageSize))
	}
	return newWSConn(ws, address), nil
}

// Close is a no-op for WebSocket dialers.
func (d *WSDialer) Close() error { return nil }
