// Package cmd wires up the CLI flags and dispatches to the chat core.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"chatd/config"
	"chatd/internal/core"
	"chatd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the chat server or client.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Address to bind (empty = all interfaces)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Chat TCP port")
	fs.IntVar(&cfg.WebSocketPort, "ws-port", 0, "WebSocket port (0 = disabled)")
	fs.StringVar(&cfg.WebSocketPath, "ws-path", cfg.WebSocketPath, "WebSocket upgrade path")
	fs.StringSliceVar(&cfg.AllowedOrigins, "ws-origin", nil, "Allowed WebSocket origin (repeatable, * = any)")
	fs.IntVar(&cfg.SSHPort, "ssh-port", 0, "SSH port, e.g. 2222 (0 = disabled)")
	fs.StringVar(&cfg.SSHHostKey, "ssh-host-key", cfg.SSHHostKey, "SSH host key file (generated if missing)")
	fs.IntVar(&cfg.BindAttempts, "bind-attempts", cfg.BindAttempts, "Attempts per listener while its port is in use")
	fs.BoolVar(&cfg.Console, "console", false, "Read operator commands from stdin (sair, usuarios, status)")

	// ── sessions ─────────────────────────────────────────────────
	fs.IntVar(&cfg.HandshakeAttempts, "handshake-attempts", cfg.HandshakeAttempts, "Invalid names allowed per connection (0 = unlimited)")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Time allowed to pick a name (0 = unlimited)")
	fs.IntVar(&cfg.SendQueueSize, "queue-size", cfg.SendQueueSize, "Outbound messages buffered per session")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Largest accepted message in bytes")
	fs.DurationVar(&cfg.Grace, "grace", cfg.Grace, "Wait for connected users on shutdown")

	// ── client ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Connect, "connect", "c", "", "Join a server: host[:port], ws://host:port/ws or ssh://host[:port]")
	fs.StringVarP(&cfg.Name, "name", "n", "", "Display name (prompted if empty)")
	fs.DurationVarP(&cfg.ConnTimeout, "timeout", "w", cfg.ConnTimeout, "Connect timeout")
	fs.StringVar(&cfg.SSHUser, "ssh-user", "", "SSH user (defaults to --name)")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHosts, "known-hosts", "", "Custom known_hosts path")
	fs.StringVar(&cfg.SSHKey, "ssh-key", "", "SSH private key file (for authenticating gateways)")
	fs.BoolVar(&cfg.SSHAgent, "ssh-agent", false, "Offer keys from the SSH agent")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Load CHATD_* variables from this file")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("chatd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── environment ──────────────────────────────────────────────
	if err := config.LoadEnvFile(cfg.EnvFile, fs.Changed("env-file")); err != nil {
		return err
	}
	if err := config.LoadFromEnv(cfg, fs.Changed); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose + 1)
	if cfg.DryRun {
		logger.Info("configuration valid")
		return nil
	}

	// ── build & run ──────────────────────────────────────────────
	mode, err := core.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatd – multi-user chat relay v%s

Usage:
  chatd [options]                             Serve
  chatd --connect <host[:port]> [--name N]    Join as a client

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every server and client option can be set as CHATD_<NAME>, e.g.
  CHATD_PORT=12345 or CHATD_WS_ORIGINS=https://chat.example.com.
  Flags win over the environment, which wins over --env-file.

Examples:
  chatd --console                             Serve on :%d with operator console
  chatd --ws-port 8080 --ssh-port 2222        Also serve WebSocket and SSH
  chatd -c localhost -n alice                 Join as alice
  chatd -c ws://chat.local:8080/ws            Join over WebSocket
  ssh -p 2222 chat.local                      Join with any SSH client
`, config.DefaultPort)
}
