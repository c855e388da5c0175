package core

import (
	"context"
	"net"
	"sync"
	"time"

	"chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/internal/retry"
	"chatd/internal/session"
	"chatd/internal/transport"
	"chatd/internal/wire"
	"chatd/util"
)

// ServeMode accepts connections on every listener and runs one session
// per connection against a shared registry.  Create it with
// NewServeMode.
type ServeMode struct {
	Listeners []transport.Listener
	Registry  *registry.Registry
	Policy    session.Policy
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// Grace is how long Run waits for open sessions after the
	// listeners close (0 = do not wait).
	Grace time.Duration

	// Console, when set, runs alongside the accept loops.
	Console *Console

	// AcceptBackoff paces retries after accept errors.
	AcceptBackoff *retry.Backoff

	stopOnce sync.Once
	stopped  chan struct{}
	sessions sync.WaitGroup
}

// NewServeMode wires a server around already-bound listeners.
func NewServeMode(listeners []transport.Listener, reg *registry.Registry, p session.Policy,
	logger *util.Logger, m *metrics.Collector) *ServeMode {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &ServeMode{
		Listeners:     listeners,
		Registry:      reg,
		Policy:        p,
		Logger:        logger,
		Metrics:       m,
		AcceptBackoff: retry.AcceptBackoff(),
		stopped:       make(chan struct{}),
	}
}

// Addrs returns the bound address of every listener.
func (m *ServeMode) Addrs() []net.Addr {
	out := make([]net.Addr, 0, len(m.Listeners))
	for _, l := range m.Listeners {
		out = append(out, l.Addr())
	}
	return out
}

// Run serves until ctx is cancelled or Stop is called.  Sessions
// already accepted keep running; Run waits up to Grace for them.
func (m *ServeMode) Run(ctx context.Context) error {
	for _, l := range m.Listeners {
		m.Logger.Info("listening on %s", l.Addr())
	}

	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-m.stopped:
		}
	}()

	if m.Console != nil {
		go m.Console.Run(m.Stop)
	}

	var loops sync.WaitGroup
	for _, l := range m.Listeners {
		loops.Add(1)
		go func(l transport.Listener) {
			defer loops.Done()
			m.acceptLoop(ctx, l)
		}(l)
	}
	loops.Wait()

	m.Logger.Info("server stopped accepting connections")
	if m.Grace > 0 && !m.Wait(m.Grace) {
		m.Logger.Warn("%d user(s) still connected after %v", m.Registry.Len(), m.Grace)
	}
	return nil
}

// Stop closes every listener exactly once.  It does not interrupt
// sessions.
func (m *ServeMode) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
		for _, l := range m.Listeners {
			if err := l.Close(); err != nil && !errors.IsClosed(err) {
				m.Logger.Warn("closing %s: %v", l.Addr(), err)
			}
		}
	})
}

// Wait blocks until every accepted session has finished or timeout
// elapses.  It reports whether all sessions finished.
func (m *ServeMode) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *ServeMode) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

func (m *ServeMode) acceptLoop(ctx context.Context, l transport.Listener) {
	bo := m.AcceptBackoff
	if bo == nil {
		bo = retry.AcceptBackoff()
	}
	failures := 0
	for {
		conn, err := l.Accept()
		if err != nil {
			if m.isStopped() || errors.IsClosed(err) {
				return
			}
			failures++
			m.Metrics.RecordError(err.Error())
			delay := bo.Delay(failures)
			m.Logger.Warn("accept on %s: %v (retrying in %v)", l.Addr(), err, delay)
			select {
			case <-time.After(delay):
			case <-m.stopped:
				return
			}
			continue
		}
		failures = 0

		m.sessions.Add(1)
		go m.serve(ctx, conn)
	}
}

func (m *ServeMode) serve(ctx context.Context, conn wire.Conn) {
	defer m.sessions.Done()

	s := session.New(conn, m.Registry, m.Logger, m.Metrics, m.Policy)
	// Sessions outlive the accept loop; shutdown does not cut them off.
	if err := s.Run(context.WithoutCancel(ctx)); err != nil {
		m.Metrics.RecordError(err.Error())
		m.Logger.Verbose("session %s from %s ended: %v", s.ID(), conn.RemoteAddr(), err)
	}
}
