package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"chatd/config"
	"chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/registry"
	"chatd/internal/retry"
	"chatd/internal/session"
	"chatd/internal/transport"
	"chatd/util"
)

// Build constructs the appropriate Mode from the given configuration.
// Server listeners are bound here, so bind failures surface before Run.
func Build(ctx context.Context, cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.IsClient() {
		return buildConnect(cfg, logger)
	}
	return buildServe(ctx, cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(ctx context.Context, cfg *config.Config, logger *util.Logger) (Mode, error) {
	var listeners []transport.Listener
	closeAll := func() {
		for _, l := range listeners {
			l.Close()
		}
	}

	open := func(addr string, listen func(addr string) (transport.Listener, error)) error {
		l, err := bindWithRetry(ctx, addr, cfg.BindAttempts, logger, listen)
		if err != nil {
			closeAll()
			return err
		}
		listeners = append(listeners, l)
		return nil
	}

	err := open(util.FormatAddr(cfg.Host, cfg.Port), func(addr string) (transport.Listener, error) {
		return transport.ListenTCP(addr, cfg.MaxMessageSize)
	})
	if err != nil {
		return nil, err
	}

	if cfg.WebSocketPort > 0 {
		err := open(util.FormatAddr(cfg.Host, cfg.WebSocketPort), func(addr string) (transport.Listener, error) {
			return transport.ListenWebSocket(addr, cfg.WebSocketPath, cfg.AllowedOrigins, cfg.MaxMessageSize, logger)
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.SSHPort > 0 {
		key, err := transport.LoadOrGenerateHostKey(cfg.SSHHostKey, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		err = open(util.FormatAddr(cfg.Host, cfg.SSHPort), func(addr string) (transport.Listener, error) {
			return transport.ListenSSH(addr, key, cfg.MaxMessageSize, logger)
		})
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	reg := registry.New(logger, m)
	policy := session.Policy{
		MaxAttempts: cfg.HandshakeAttempts,
		Timeout:     cfg.HandshakeTimeout,
		QueueSize:   cfg.SendQueueSize,
	}

	mode := NewServeMode(listeners, reg, policy, logger, m)
	mode.Grace = cfg.Grace
	if cfg.Console {
		mode.Console = &Console{
			In:       os.Stdin,
			Out:      os.Stdout,
			Registry: reg,
			Metrics:  m,
			Prompt:   term.IsTerminal(int(os.Stdin.Fd())),
		}
	}
	return mode, nil
}

// bindWithRetry retries "address in use" failures, which clear once a
// previous process releases the port.  Other errors fail immediately.
func bindWithRetry(ctx context.Context, addr string, attempts int, logger *util.Logger,
	listen func(addr string) (transport.Listener, error)) (transport.Listener, error) {
	bo := retry.DefaultBackoff()
	bo.MaxAttempts = attempts

	var l transport.Listener
	err := bo.Do(ctx, func(attempt int) error {
		var err error
		l, err = listen(addr)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EADDRINUSE) || errors.IsRetryable(err) {
			if attempts > 1 {
				logger.Warn("bind %s (attempt %d/%d): %v", addr, attempt, attempts, err)
			}
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return l, nil
}

func buildConnect(cfg *config.Config, logger *util.Logger) (Mode, error) {
	dialer, address, err := buildDialer(cfg)
	if err != nil {
		return nil, err
	}
	return &ConnectMode{
		Dialer:  dialer,
		Address: address,
		Name:    cfg.Name,
		Logger:  logger,
	}, nil
}

// buildDialer picks the transport from the --connect scheme:
// ws:// and wss:// use WebSocket, ssh:// uses SSH, anything else
// (optionally tcp://) is plain TCP.
func buildDialer(cfg *config.Config) (transport.Dialer, string, error) {
	target := cfg.Connect
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		return &transport.WSDialer{
			Timeout:        cfg.ConnTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		}, target, nil

	case strings.HasPrefix(target, "ssh://"):
		addr, err := util.NormalizeAddr(strings.TrimPrefix(target, "ssh://"), config.DefaultSSHPort)
		if err != nil {
			return nil, "", &errors.ConfigError{Field: "connect", Value: target, Message: err.Error()}
		}
		user := cfg.SSHUser
		if user == "" {
			user = cfg.Name
		}
		return &transport.SSHDialer{
			User:           user,
			Timeout:        cfg.ConnTimeout,
			StrictHostKey:  cfg.StrictHostKey,
			KnownHosts:     cfg.KnownHosts,
			KeyPath:        cfg.SSHKey,
			UseAgent:       cfg.SSHAgent,
			MaxMessageSize: cfg.MaxMessageSize,
		}, addr, nil
	}

	addr, err := util.NormalizeAddr(strings.TrimPrefix(target, "tcp://"), config.DefaultPort)
	if err != nil {
		return nil, "", &errors.ConfigError{
			Field:   "connect",
			Value:   target,
			Message: err.Error(),
			Hint:    "use host[:port], ws://host:port/ws or ssh://host:port",
		}
	}
	return &transport.TCPDialer{
		Timeout:        cfg.ConnTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, addr, nil
}
