package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatd/internal/message"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/util"
)

type nopPeer struct{}

func (nopPeer) Send(*message.Message) bool { return true }

func newConsole(t *testing.T, input string, names ...string) (*Console, *bytes.Buffer) {
	t.Helper()
	m := metrics.New()
	reg := registry.New(util.NewLogger(0), m)
	for _, n := range names {
		require.NoError(t, reg.Register(n, nopPeer{}))
	}
	out := &bytes.Buffer{}
	return &Console{In: strings.NewReader(input), Out: out, Registry: reg, Metrics: m}, out
}

func TestConsole_Sair(t *testing.T) {
	// Given: an operator typing the stop command in upper case
	c, out := newConsole(t, "ajuda\nSAIR\nusuarios\n")
	stops := 0

	// When: the console runs
	c.Run(func() { stops++ })

	// Then: stop is called once and later lines are ignored
	require.Equal(t, 1, stops)
	require.Contains(t, out.String(), "pronto")
	require.Contains(t, out.String(), "encerra o servidor")
	require.Contains(t, out.String(), "Encerrando servidor...")
	require.NotContains(t, out.String(), "Nenhum cliente conectado.")
}

func TestConsole_EOFKeepsServer(t *testing.T) {
	// Given: input that ends without the stop command
	c, _ := newConsole(t, "status\n")
	stopped := false

	// When: the console runs to the end of input
	c.Run(func() { stopped = true })

	// Then: the server is left running
	require.False(t, stopped)
}

func TestConsole_Usuarios(t *testing.T) {
	// Given: two connected users
	c, out := newConsole(t, "", "bob", "alice")

	// When: the operator lists users
	require.False(t, c.Exec("usuarios"))

	// Then: a table lists them in order with a total
	got := out.String()
	require.Contains(t, got, "Nome")
	require.Contains(t, got, "total: 2")
	require.Less(t, strings.Index(got, "alice"), strings.Index(got, "bob"))
}

func TestConsole_UsuariosEmpty(t *testing.T) {
	c, out := newConsole(t, "")

	require.False(t, c.Exec("  Usuarios  "))
	require.Equal(t, "Nenhum cliente conectado.\n", out.String())
}

func TestConsole_Status(t *testing.T) {
	// Given: a collector with one recorded broadcast
	c, out := newConsole(t, "")
	c.Metrics.Broadcast()

	// When: the operator asks for status
	require.False(t, c.Exec("status"))

	// Then: the metrics snapshot is printed as JSON
	require.Contains(t, out.String(), `"broadcasts": 1`)
	require.Contains(t, out.String(), `"uptime"`)
}

func TestConsole_Unknown(t *testing.T) {
	c, out := newConsole(t, "")

	require.False(t, c.Exec("reboot"))
	require.False(t, c.Exec(""))
	require.Contains(t, out.String(), `comando desconhecido: "reboot"`)
}
