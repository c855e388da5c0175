package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"chatd/util"
)

// LoadOrGenerateHostKey reads the SSH host key at path, creating a new
// ed25519 key (mode 0600) when the file does not exist.  An encrypted
// key prompts for its passphrase when stdin is a terminal.
func LoadOrGenerateHostKey(path string, logger *util.Logger) (ssh.Signer, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		logger.Verbose("loading host key from %s", path)
		return parsePrivateKey(path, data)
	case os.IsNotExist(err):
		logger.Info("generating new host key at %s", path)
		return generateHostKey(path)
	default:
		return nil, fmt.Errorf("reading host key: %w", err)
	}
}

// parsePrivateKey decodes an OpenSSH or PEM private key, asking for the
// passphrase on the terminal when the key is encrypted.
func parsePrivateKey(path string, data []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	if _, ok := err.(*ssh.PassphraseMissingError); !ok {
		return nil, fmt.Errorf("parsing key %s: %w", path, err)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("key %s is encrypted and stdin is not a terminal", path)
	}
	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass)
	if err != nil {
		return nil, fmt.Errorf("decrypting key %s: %w", path, err)
	}
	return signer, nil
}

func generateHostKey(path string) (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "chatd host key")
	if err != nil {
		return nil, fmt.Errorf("encoding host key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	return ssh.NewSignerFromKey(priv)
}
