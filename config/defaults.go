package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultPort is the chat TCP port.
	DefaultPort = 12345

	// DefaultSSHPort is assumed for ssh:// addresses without a port.
	DefaultSSHPort = 2222

	// DefaultWebSocketPath is where WebSocket upgrades are served.
	DefaultWebSocketPath = "/ws"

	// DefaultSSHHostKey is where the SSH listener keeps its host key.
	DefaultSSHHostKey = ".keystore/chatd_host_key"

	// DefaultHandshakeAttempts is how many invalid names a client may
	// propose before it is disconnected.
	DefaultHandshakeAttempts = 10

	// DefaultHandshakeTimeout bounds the whole name handshake.
	DefaultHandshakeTimeout = 2 * time.Minute

	// DefaultSendQueueSize is the per-session outbound queue capacity.
	DefaultSendQueueSize = 256

	// DefaultMaxMessageSize bounds one encoded message.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultBindAttempts is how many times each listener tries to bind.
	DefaultBindAttempts = 1

	// DefaultConnTimeout is the client dial timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions.
	DefaultGracePeriod = 5 * time.Second

	// DefaultEnvFile is loaded when present.
	DefaultEnvFile = ".env"
)
