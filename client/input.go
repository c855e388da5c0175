package client

import (
	"fmt"
	"strings"
)

// Kind classifies one line of user input.
type Kind int

const (
	KindEmpty Kind = iota
	KindBroadcast
	KindPrivate
	KindListUsers
	KindQuit
	KindHelp
)

// Input is a parsed input line.
type Input struct {
	Kind Kind
	To   string // KindPrivate only
	Text string
}

// Usage lists the commands understood by ParseInput.
const Usage = `/usuarios                      lista usuários conectados
/privado <usuário> <mensagem>  envia mensagem privada
/ajuda                         mostra esta ajuda
/sair                          encerra a conexão
qualquer outro texto é enviado a todos`

// ParseInput interprets a line typed by the user.  A malformed
// /privado returns an error carrying the usage line.
func ParseInput(line string) (Input, error) {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return Input{Kind: KindEmpty}, nil
	case text == "/sair":
		return Input{Kind: KindQuit}, nil
	case text == "/ajuda":
		return Input{Kind: KindHelp}, nil
	case strings.HasPrefix(text, "/usuarios"):
		return Input{Kind: KindListUsers}, nil
	case text == "/privado" || strings.HasPrefix(text, "/privado "):
		parts := strings.SplitN(text, " ", 3)
		if len(parts) < 3 || parts[1] == "" || strings.TrimSpace(parts[2]) == "" {
			return Input{}, fmt.Errorf("uso: /privado <usuário> <mensagem>")
		}
		return Input{Kind: KindPrivate, To: parts[1], Text: parts[2]}, nil
	}
	return Input{Kind: KindBroadcast, Text: text}, nil
}
