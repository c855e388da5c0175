package transport

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods assembles the client authentication methods for d in the
// order key file, then agent.  With neither configured only "none" is
// offered, which is all a chatd listener asks for; keys matter when the
// server sits behind an authenticating SSH gateway.  The returned
// closer, if any, releases the agent connection once the handshake is
// done.
func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod

	if d.KeyPath != "" {
		m, err := publicKeyAuth(d.KeyPath)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, m)
	}

	var agentConn io.Closer
	if d.UseAgent {
		m, conn, err := agentAuth()
		if err != nil {
			return nil, nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, m)
		agentConn = conn
	}
	return methods, agentConn, nil
}

func publicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	signer, err := parsePrivateKey(keyPath, data)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func agentAuth() (ssh.AuthMethod, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), conn, nil
}
