package core

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"chatd/internal/metrics"
	"chatd/internal/registry"
)

const consoleHelp = `comandos:
  usuarios   lista usuários conectados
  status     mostra métricas do servidor
  ajuda      mostra esta ajuda
  sair       encerra o servidor`

// Console reads operator commands, one per line.
type Console struct {
	In       io.Reader
	Out      io.Writer
	Registry *registry.Registry
	Metrics  *metrics.Collector

	// Prompt prints "> " before each command (interactive terminals).
	Prompt bool
}

// Run processes commands until "sair" (which calls stop) or the end of
// input (which leaves the server running).
func (c *Console) Run(stop func()) {
	fmt.Fprintln(c.Out, color.New(color.FgCyan, color.OpBold).Render("chatd")+
		" pronto. Digite 'ajuda' para ver os comandos.")

	sc := bufio.NewScanner(c.In)
	for {
		if c.Prompt {
			fmt.Fprint(c.Out, "> ")
		}
		if !sc.Scan() {
			return
		}
		if c.Exec(sc.Text()) {
			stop()
			return
		}
	}
}

// Exec runs one command line and reports whether it asked to stop.
func (c *Console) Exec(line string) (quit bool) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
	case "sair":
		fmt.Fprintln(c.Out, "Encerrando servidor...")
		return true
	case "usuarios":
		c.printUsers()
	case "status":
		fmt.Fprintln(c.Out, c.Metrics.JSON())
	case "ajuda":
		fmt.Fprintln(c.Out, consoleHelp)
	default:
		fmt.Fprintf(c.Out, "comando desconhecido: %q (digite 'ajuda')\n", cmd)
	}
	return false
}

func (c *Console) printUsers() {
	names := c.Registry.Names()
	if len(names) == 0 {
		fmt.Fprintln(c.Out, "Nenhum cliente conectado.")
		return
	}

	table := tablewriter.NewWriter(c.Out)
	table.SetHeader([]string{"#", "Nome"})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, n := range names {
		table.Append([]string{strconv.Itoa(i + 1), n})
	}
	table.SetFooter([]string{"", fmt.Sprintf("total: %d", len(names))})
	table.Render()
}
