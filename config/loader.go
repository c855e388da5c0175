package config

// loader.go - configuration loading from the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (CHATD_*)
//   3. .env file  (--env-file, default ./.env when present)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended (with "_") to every variable name.
const EnvPrefix = "CHATD"

// envOverlay mirrors Config with pointer fields so that unset variables
// can be told apart from zero values.  The flag tag ties each variable
// to the CLI flag that takes precedence over it.
type envOverlay struct {
	Host              *string        `envconfig:"HOST" flag:"host"`
	Port              *int           `envconfig:"PORT" flag:"port"`
	WebSocketPort     *int           `envconfig:"WS_PORT" flag:"ws-port"`
	WebSocketPath     *string        `envconfig:"WS_PATH" flag:"ws-path"`
	AllowedOrigins    *[]string      `envconfig:"WS_ORIGINS" flag:"ws-origin"`
	SSHPort           *int           `envconfig:"SSH_PORT" flag:"ssh-port"`
	SSHHostKey        *string        `envconfig:"SSH_HOST_KEY" flag:"ssh-host-key"`
	BindAttempts      *int           `envconfig:"BIND_ATTEMPTS" flag:"bind-attempts"`
	Console           *bool          `envconfig:"CONSOLE" flag:"console"`
	HandshakeAttempts *int           `envconfig:"HANDSHAKE_ATTEMPTS" flag:"handshake-attempts"`
	HandshakeTimeout  *time.Duration `envconfig:"HANDSHAKE_TIMEOUT" flag:"handshake-timeout"`
	SendQueueSize     *int           `envconfig:"QUEUE_SIZE" flag:"queue-size"`
	MaxMessageSize    *int           `envconfig:"MAX_MESSAGE_SIZE" flag:"max-message-size"`
	Grace             *time.Duration `envconfig:"GRACE" flag:"grace"`
	Connect           *string        `envconfig:"CONNECT" flag:"connect"`
	Name              *string        `envconfig:"NAME" flag:"name"`
	ConnTimeout       *time.Duration `envconfig:"TIMEOUT" flag:"timeout"`
	SSHUser           *string        `envconfig:"SSH_USER" flag:"ssh-user"`
	StrictHostKey     *bool          `envconfig:"STRICT_HOSTKEY" flag:"strict-hostkey"`
	KnownHosts        *string        `envconfig:"KNOWN_HOSTS" flag:"known-hosts"`
	SSHKey            *string        `envconfig:"SSH_KEY" flag:"ssh-key"`
	SSHAgent          *bool          `envconfig:"SSH_AGENT" flag:"ssh-agent"`
	Verbose           *int           `envconfig:"VERBOSE" flag:"verbose"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set.  A
// missing file is not an error unless required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays CHATD_* variables onto cfg.  Fields whose flag
// was given explicitly on the command line (explicit reports true) are
// left alone.  explicit may be nil.
func LoadFromEnv(cfg *Config, explicit func(flag string) bool) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	set(&cfg.Host, env.Host, explicit("host"))
	set(&cfg.Port, env.Port, explicit("port"))
	set(&cfg.WebSocketPort, env.WebSocketPort, explicit("ws-port"))
	set(&cfg.WebSocketPath, env.WebSocketPath, explicit("ws-path"))
	if env.AllowedOrigins != nil && !explicit("ws-origin") {
		cfg.AllowedOrigins = *env.AllowedOrigins
	}
	set(&cfg.SSHPort, env.SSHPort, explicit("ssh-port"))
	set(&cfg.SSHHostKey, env.SSHHostKey, explicit("ssh-host-key"))
	set(&cfg.BindAttempts, env.BindAttempts, explicit("bind-attempts"))
	set(&cfg.Console, env.Console, explicit("console"))

	set(&cfg.HandshakeAttempts, env.HandshakeAttempts, explicit("handshake-attempts"))
	set(&cfg.HandshakeTimeout, env.HandshakeTimeout, explicit("handshake-timeout"))
	set(&cfg.SendQueueSize, env.SendQueueSize, explicit("queue-size"))
	set(&cfg.MaxMessageSize, env.MaxMessageSize, explicit("max-message-size"))
	set(&cfg.Grace, env.Grace, explicit("grace"))

	set(&cfg.Connect, env.Connect, explicit("connect"))
	set(&cfg.Name, env.Name, explicit("name"))
	set(&cfg.ConnTimeout, env.ConnTimeout, explicit("timeout"))
	set(&cfg.SSHUser, env.SSHUser, explicit("ssh-user"))
	set(&cfg.StrictHostKey, env.StrictHostKey, explicit("strict-hostkey"))
	set(&cfg.KnownHosts, env.KnownHosts, explicit("known-hosts"))
	set(&cfg.SSHKey, env.SSHKey, explicit("ssh-key"))
	set(&cfg.SSHAgent, env.SSHAgent, explicit("ssh-agent"))

	set(&cfg.Verbose, env.Verbose, explicit("verbose"))
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func set[T any](dst *T, v *T, skip bool) {
	if v != nil && !skip {
		*dst = *v
	}
}
