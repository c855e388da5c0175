package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"chatd/client"
	"chatd/internal/errors"
	"chatd/internal/message"
	"chatd/internal/transport"
	"chatd/util"
)

// ConnectMode joins a chat server as a terminal client: lines read from
// Stdin are sent, messages from the server are printed to Stdout.
type ConnectMode struct {
	Dialer  transport.Dialer
	Address string
	Name    string // prompted for when empty
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer

	outMu sync.Mutex
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *ConnectMode) println(s string) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintln(m.stdout(), s)
}

// Run dials the server, completes the handshake and relays until the
// user types /sair, input ends, the server hangs up or ctx is done.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("connecting to %s", m.Address)
	c, err := client.Dial(ctx, m.Dialer, m.Address)
	if err != nil {
		return err
	}
	defer c.Close()

	in := bufio.NewScanner(m.stdin())
	if err := m.join(c, in); err != nil {
		return err
	}
	m.println(message.Welcome(c.Name()))
	m.println("Digite suas mensagens abaixo. Use /privado <usuário> <mensagem> para mensagens privadas.")

	done := make(chan struct{})
	defer close(done)

	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := c.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			m.println(msg.Render())
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			select {
			case lines <- in.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			if errors.Is(err, io.EOF) || errors.IsClosed(err) {
				m.println("Conexão perdida com o servidor.")
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := m.handle(c, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// join proposes names until one is accepted, asking the user for a new
// one after every rejection.
func (m *ConnectMode) join(c *client.Client, in *bufio.Scanner) error {
	name := m.Name
	for {
		if name == "" {
			m.outMu.Lock()
			fmt.Fprint(m.stdout(), "Nome: ")
			m.outMu.Unlock()
			if !in.Scan() {
				return fmt.Errorf("no name given")
			}
			name = strings.TrimSpace(in.Text())
		}

		err := c.Join(name)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errors.ErrNameRejected):
			m.println(message.NameRejected)
			name = ""
		default:
			return fmt.Errorf("handshake: %w", err)
		}
	}
}

// handle sends one input line and echoes it locally, since the server
// never returns a sender's own messages.
func (m *ConnectMode) handle(c *client.Client, line string) (quit bool, err error) {
	in, perr := client.ParseInput(line)
	if perr != nil {
		m.println(perr.Error())
		return false, nil
	}

	switch in.Kind {
	case client.KindEmpty:
	case client.KindQuit:
		return true, nil
	case client.KindHelp:
		m.println(client.Usage)
	case client.KindListUsers:
		err = c.ListUsers()
	case client.KindPrivate:
		if err = c.Private(in.To, in.Text); err == nil {
			m.println(message.New(c.Name(), in.To, in.Text).Render())
		}
	case client.KindBroadcast:
		if err = c.Broadcast(in.Text); err == nil {
			m.println(message.New(c.Name(), "", in.Text).Render())
		}
	}
	return false, err
}
