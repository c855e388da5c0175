// Package session runs the lifecycle of one client connection: the
// name handshake, the dispatch loop and teardown.
//
// A session owns its wire.Conn.  Other sessions reach it only through
// Send, which queues onto the session's own outbound channel; a single
// writer goroutine drains that channel, so nothing outside the session
// ever blocks on its transport.
package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"chatd/internal/errors"
	"chatd/internal/message"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/internal/wire"
	"chatd/util"
)

// flushTimeout bounds how long teardown lets the writer deliver
// messages that were already queued.
const flushTimeout = 250 * time.Millisecond

// Policy bounds the handshake and the outbound queue.
type Policy struct {
	// MaxAttempts is the number of invalid names tolerated before the
	// connection is dropped (0 = unlimited).
	MaxAttempts int
	// Timeout bounds the whole handshake (0 = none).
	Timeout time.Duration
	// QueueSize is the outbound queue capacity.
	QueueSize int
}

// DefaultPolicy returns the limits used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		Timeout:     2 * time.Minute,
		QueueSize:   256,
	}
}

// Session binds one connection to the registry.
type Session struct {
	id       uuid.UUID
	conn     wire.Conn
	registry *registry.Registry
	logger   *util.Logger
	metrics  *metrics.Collector
	policy   Policy

	mu         sync.Mutex
	name       string
	registered bool
	closing    bool
	writing    bool // writer goroutine started

	out       chan *message.Message
	done      chan struct{}
	flushed   chan struct{} // closed when the writer exits
	closeOnce sync.Once
}

// New creates a session for conn.  It does nothing until Run.
func New(conn wire.Conn, reg *registry.Registry, logger *util.Logger, m *metrics.Collector, p Policy) *Session {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if p.QueueSize <= 0 {
		p.QueueSize = DefaultPolicy().QueueSize
	}
	return &Session{
		id:       uuid.New(),
		conn:     conn,
		registry: reg,
		logger:   logger,
		metrics:  m,
		policy:   p,
		out:      make(chan *message.Message, p.QueueSize),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
}

// ID returns the connection id used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Name returns the registered display name, or "" before the handshake
// completes.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) label() string {
	if n := s.Name(); n != "" {
		return n
	}
	return s.conn.RemoteAddr() + " (" + s.id.String()[:8] + ")"
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Run performs the handshake and then dispatches inbound messages until
// the peer disconnects.  Teardown always runs before Run returns.  A
// clean disconnect returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	defer s.Close()

	s.logger.Verbose("session %s: connection from %s", s.id, s.conn.RemoteAddr())

	name, err := s.handshake(ctx)
	if err != nil {
		s.metrics.HandshakeFailed()
		if s.isClosing() || isDisconnect(err) {
			s.logger.Verbose("session %s: left during handshake", s.label())
			return nil
		}
		return err
	}

	s.metrics.SessionRegistered()
	s.registry.Broadcast(message.System("", message.Joined(name)), name)

	return s.loop(name)
}

// Close tears the session down exactly once: it leaves the registry,
// tells everyone else, lets the writer flush what is already queued for
// up to flushTimeout, then closes the transport.
func (s *Session) Close() { s.teardown(true) }

func (s *Session) teardown(flush bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		name, registered, writing := s.name, s.registered, s.writing
		s.mu.Unlock()

		if registered && s.registry.Remove(name) {
			s.registry.Broadcast(message.System("", message.Left(name)), name)
		}
		close(s.done)
		if flush && writing {
			select {
			case <-s.flushed:
			case <-time.After(flushTimeout):
				s.logger.Debug("session %s: flush timed out", s.label())
			}
		}
		if err := s.conn.Close(); err != nil && !errors.IsClosed(err) {
			s.logger.Debug("session %s: close: %v", s.label(), err)
		}
	})
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// ── Handshake ────────────────────────────────────────────────────────

func (s *Session) handshake(ctx context.Context) (string, error) {
	hctx := ctx
	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}
	stop := context.AfterFunc(hctx, func() { s.conn.Close() }) //nolint:errcheck
	defer stop()

	timedOut := func(err error) error {
		if hctx.Err() == context.DeadlineExceeded {
			return errors.Protocol("handshake", s.label(), errors.ErrHandshakeTimeout)
		}
		return err
	}

	if err := s.conn.Send(message.System("", message.NameRequest)); err != nil {
		return "", timedOut(err)
	}

	for attempt := 1; ; attempt++ {
		reply, err := s.conn.Receive()
		if err != nil {
			return "", timedOut(err)
		}
		s.metrics.MessageReceived()

		name := reply.Content()
		err = s.claim(name)
		if err == nil {
			s.logger.Verbose("session %s: registered as %q after %d attempt(s)", s.id, name, attempt)
			return name, nil
		}
		if errors.Is(err, errors.ErrSessionClosed) {
			return "", err
		}
		s.logger.Debug("session %s: name %q rejected: %v", s.id, name, err)

		if s.policy.MaxAttempts > 0 && attempt >= s.policy.MaxAttempts {
			s.conn.Send(message.System("", message.TooManyAttempts)) //nolint:errcheck
			return "", errors.Protocol("handshake", s.label(), errors.ErrHandshakeAttempts)
		}
		if err := s.conn.Send(message.System("", message.NameRejected)); err != nil {
			return "", timedOut(err)
		}
	}
}

// claim validates name and registers it.  The welcome is queued before
// the name becomes visible, so it is always the first queued delivery.
func (s *Session) claim(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.out <- message.System(name, message.Welcome(name))
	if err := s.registry.Register(name, s); err != nil {
		s.drain()
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.registry.Remove(name)
		return errors.ErrSessionClosed
	}
	s.name = name
	s.registered = true
	s.writing = true
	s.mu.Unlock()

	go s.writer()
	return nil
}

func (s *Session) drain() {
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}

// ValidateName reports why name cannot be used, or nil.  Names must be
// non-empty, contain no whitespace and not impersonate the server.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.ErrNameInvalid
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return errors.ErrNameInvalid
	case strings.EqualFold(name, message.SystemSender):
		return errors.ErrNameReserved
	}
	return nil
}

// ── Steady state ─────────────────────────────────────────────────────

func (s *Session) loop(name string) error {
	for {
		in, err := s.conn.Receive()
		if err != nil {
			if s.isClosing() || isDisconnect(err) {
				return nil
			}
			if errors.Is(err, errors.ErrMalformedMessage) {
				s.metrics.RecordError(err.Error())
				return errors.Protocol("receive", name, err)
			}
			return err
		}
		s.metrics.MessageReceived()
		s.dispatch(name, in)
	}
}

// dispatch routes one inbound message.  The sender is always the
// session's own name, whatever the client put in the envelope.
func (s *Session) dispatch(name string, in *message.Message) {
	msg := message.New(name, in.Recipient(), in.Content())

	switch {
	case msg.IsListUsers():
		s.Send(message.System(name, s.registry.ListUsers()))

	case msg.IsPrivate():
		if err := msg.Unwrap(); err != nil {
			s.logger.Debug("session %s: %v", name, err)
			return
		}
		if err := s.registry.DeliverDirected(msg); err != nil {
			s.logger.Verbose("session %s: private to %q: %v", name, msg.Recipient(), err)
		}

	case msg.IsBroadcast():
		s.registry.Broadcast(msg, name)

	default:
		// A recipient without the private envelope is not routed.
		s.logger.Debug("session %s: dropped message to %q without %s", name, msg.Recipient(), message.PrivatePrefix)
	}
}

// ── Outbound ─────────────────────────────────────────────────────────

// Send queues msg for delivery without blocking.  A full queue means
// the peer cannot keep up; the session is torn down and Send reports
// false.
func (s *Session) Send(msg *message.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- msg:
		return true
	default:
		s.logger.Warn("session %s: send queue full, disconnecting", s.label())
		go s.Close()
		return false
	}
}

func (s *Session) writer() {
	defer close(s.flushed)
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case msg := <-s.out:
			if err := s.conn.Send(msg); err != nil {
				if !s.isClosing() {
					s.logger.Verbose("session %s: write: %v", s.label(), err)
					s.metrics.RecordError(err.Error())
				}
				// The writer is the one that failed; nobody is left to
				// flush for.
				s.teardown(false)
				return
			}
			s.metrics.MessageSent()
		}
	}
}

// flush writes whatever is still queued once teardown has begun.  It
// stops at the first write error or after flushTimeout.
func (s *Session) flush() {
	deadline := time.Now().Add(flushTimeout)
	for time.Now().Before(deadline) {
		select {
		case msg := <-s.out:
			if err := s.conn.Send(msg); err != nil {
				return
			}
			s.metrics.MessageSent()
		default:
			return
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.IsClosed(err)
}
