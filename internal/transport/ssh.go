package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"chatd/internal/errors"
	"chatd/internal/wire"
	"chatd/util"
)

// sshStream closes the whole SSH connection along with its channel, so
// tearing down a chat session hangs up the client.
type sshStream struct {
	ssh.Channel
	conn ssh.Conn
}

func (s *sshStream) Close() error {
	err := s.Channel.Close()
	s.conn.Close() //nolint:errcheck
	return err
}

// ── Listener ─────────────────────────────────────────────────────────

// SSHListener serves the chat protocol over SSH session channels.
// Clients are not authenticated; identity comes from the chat
// handshake.  Each accepted session channel becomes one connection.
type SSHListener struct {
	ln      net.Listener
	config  *ssh.ServerConfig
	maxSize int
	logger  *util.Logger

	conns     chan wire.Conn
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// ListenSSH binds addr and starts completing SSH handshakes in the
// background.
func ListenSSH(addr string, hostKey ssh.Signer, maxSize int, logger *util.Logger) (*SSHListener, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: "SSH-2.0-chatd",
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap("listen", addr, err)
	}

	l := &SSHListener{
		ln:      ln,
		config:  config,
		maxSize: maxSize,
		logger:  logger,
		conns:   make(chan wire.Conn),
		errs:    make(chan error),
		done:    make(chan struct{}),
	}
	go l.serve()
	return l, nil
}

// Accept returns the next chat-ready session channel.
func (l *SSHListener) Accept() (wire.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errs:
		return nil, err
	case <-l.done:
		return nil, errors.ErrListenerClosed
	}
}

// Close stops accepting new SSH connections.
func (l *SSHListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

// Addr returns the bound address.
func (l *SSHListener) Addr() net.Addr { return l.ln.Addr() }

func (l *SSHListener) serve() {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if errors.IsClosed(err) {
				return
			}
			select {
			case l.errs <- errors.Wrap("accept", l.ln.Addr().String(), err):
				continue
			case <-l.done:
				return
			}
		}
		go l.handshake(c)
	}
}

func (l *SSHListener) handshake(c net.Conn) {
	addr := c.RemoteAddr().String()
	sshConn, chans, reqs, err := ssh.NewServerConn(c, l.config)
	if err != nil {
		l.logger.Verbose("%v", errors.WrapSSH("handshake", addr, err))
		c.Close()
		return
	}
	l.logger.Verbose("ssh: connection from %s (%s)", addr, sshConn.User())

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type") //nolint:errcheck
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			l.logger.Verbose("%v", errors.WrapSSH("channel", addr, err))
			continue
		}
		go replySessionRequests(requests)

		conn := wire.NewStreamConn(&sshStream{Channel: ch, conn: sshConn}, addr, l.maxSize)
		select {
		case l.conns <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// replySessionRequests accepts the requests an interactive or piped
// client sends before it starts exchanging data.
func replySessionRequests(in <-chan *ssh.Request) {
	for req := range in {
		switch req.Type {
		case "shell", "exec", "pty-req", "env", "window-change":
			req.Reply(true, nil) //nolint:errcheck
		default:
			req.Reply(false, nil) //nolint:errcheck
		}
	}
}

// ── Dialer ───────────────────────────────────────────────────────────

// SSHDialer opens a session channel on a chatd SSH listener and speaks
// the line protocol over it.
type SSHDialer struct {
	User           string
	Timeout        time.Duration
	StrictHostKey  bool
	KnownHosts     string // default ~/.ssh/known_hosts
	KeyPath        string // private key offered to the server (optional)
	UseAgent       bool   // offer the keys held by SSH_AUTH_SOCK
	MaxMessageSize int
}

// Dial connects to address ("host:port").
func (d *SSHDialer) Dial(ctx context.Context, address string) (wire.Conn, error) {
	hkCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, errors.WrapSSH("hostkey", address, err)
	}
	auth, agentConn, err := d.authMethods()
	if err != nil {
		return nil, errors.WrapSSH("auth", address, err)
	}
	if agentConn != nil {
		defer agentConn.Close()
	}
	user := d.User
	if user == "" {
		user = "chat"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hkCallback,
		Timeout:         d.Timeout,
	}

	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap("dial", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, address, cfg)
	if err != nil {
		tcpConn.Close()
		return nil, errors.WrapSSH("handshake", address, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	ch, requests, err := client.OpenChannel("session", nil)
	if err != nil {
		client.Close()
		return nil, errors.WrapSSH("channel", address, err)
	}
	go ssh.DiscardRequests(requests)

	if ok, err := ch.SendRequest("shell", true, nil); err != nil || !ok {
		ch.Close()
		client.Close()
		if err == nil {
			err = fmt.Errorf("shell request refused")
		}
		return nil, errors.WrapSSH("shell", address, err)
	}

	return wire.NewStreamConn(&sshStream{Channel: ch, conn: client}, address, d.MaxMessageSize), nil
}

// Close is a no-op; each Dial owns its SSH connection.
func (d *SSHDialer) Close() error { return nil }

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !d.StrictHostKey {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}

	khFile := d.KnownHosts
	if khFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		khFile = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(khFile)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", khFile, err)
	}
	return cb, nil
}
