// Package config defines the runtime configuration for chatd and its
// validation rules.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"chatd/internal/errors"
)

// Config holds every tuneable for one chatd process.  The `flag` tag
// names the CLI flag that sets each field; validation errors use it.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Host           string   `flag:"host"`
	Port           int      `flag:"port" validate:"min=1,max=65535"`
	WebSocketPort  int      `flag:"ws-port" validate:"min=0,max=65535"`
	WebSocketPath  string   `flag:"ws-path" validate:"startswith=/"`
	AllowedOrigins []string `flag:"ws-origin" validate:"dive,required"`
	SSHPort        int      `flag:"ssh-port" validate:"min=0,max=65535"`
	SSHHostKey     string   `flag:"ssh-host-key" validate:"required_with=SSHPort"`
	BindAttempts   int      `flag:"bind-attempts" validate:"min=1,max=100"`
	Console        bool     `flag:"console"`

	// ── Sessions ─────────────────────────────────────────────────────
	HandshakeAttempts int           `flag:"handshake-attempts" validate:"min=0"`
	HandshakeTimeout  time.Duration `flag:"handshake-timeout"`
	SendQueueSize     int           `flag:"queue-size" validate:"min=1,max=65536"`
	MaxMessageSize    int           `flag:"max-message-size" validate:"min=256,max=16777216"`
	Grace             time.Duration `flag:"grace"`

	// ── Client ───────────────────────────────────────────────────────
	Connect       string        `flag:"connect"`
	Name          string        `flag:"name"`
	ConnTimeout   time.Duration `flag:"timeout"`
	SSHUser       string        `flag:"ssh-user"`
	StrictHostKey bool          `flag:"strict-hostkey"`
	KnownHosts    string        `flag:"known-hosts"`
	SSHKey        string        `flag:"ssh-key"`
	SSHAgent      bool          `flag:"ssh-agent"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int    `flag:"verbose"`
	DryRun  bool   `flag:"dry-run"`
	EnvFile string `flag:"env-file"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		WebSocketPath:     DefaultWebSocketPath,
		SSHHostKey:        DefaultSSHHostKey,
		BindAttempts:      DefaultBindAttempts,
		HandshakeAttempts: DefaultHandshakeAttempts,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		SendQueueSize:     DefaultSendQueueSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		Grace:             DefaultGracePeriod,
		ConnTimeout:       DefaultConnTimeout,
		EnvFile:           DefaultEnvFile,
	}
}

// IsClient reports whether the process runs as a chat client.
func (c *Config) IsClient() bool { return c.Connect != "" }

// ── Validation ───────────────────────────────────────────────────────

var validate = newValidator() //nolint:gochecknoglobals

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("flag"); name != "" {
			return name
		}
		return strings.ToLower(fld.Name)
	})
	return v
}

// Validate checks that the configuration is internally consistent.
// The first problem found is returned as a *errors.ConfigError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}

	durations := []struct {
		flag string
		val  time.Duration
	}{
		{"handshake-timeout", c.HandshakeTimeout},
		{"grace", c.Grace},
		{"timeout", c.ConnTimeout},
	}
	for _, d := range durations {
		if d.val < 0 {
			return &errors.ConfigError{
				Field:   d.flag,
				Value:   d.val,
				Message: "must not be negative",
				Hint:    "use 0 to disable the limit",
			}
		}
	}

	if strings.IndexFunc(c.Name, unicode.IsSpace) >= 0 {
		return &errors.ConfigError{
			Field:   "name",
			Value:   c.Name,
			Message: "must not contain whitespace",
			Hint:    "names are single words",
		}
	}

	if c.IsClient() {
		if c.Console {
			return &errors.ConfigError{
				Field:   "console",
				Message: "cannot be combined with --connect",
				Hint:    "the operator console only exists in server mode",
			}
		}
		return nil
	}

	ports := map[int]string{c.Port: "port"}
	for _, p := range []struct {
		flag string
		port int
	}{{"ws-port", c.WebSocketPort}, {"ssh-port", c.SSHPort}} {
		if p.port == 0 {
			continue
		}
		if other, dup := ports[p.port]; dup {
			return &errors.ConfigError{
				Field:   p.flag,
				Value:   p.port,
				Message: fmt.Sprintf("conflicts with --%s", other),
				Hint:    "each listener needs its own port",
			}
		}
		ports[p.port] = p.flag
	}
	return nil
}

func fieldError(fe validator.FieldError) *errors.ConfigError {
	ce := &errors.ConfigError{Field: fe.Field(), Value: fe.Value()}
	switch fe.Tag() {
	case "min":
		ce.Message = "must be at least " + fe.Param()
	case "max":
		ce.Message = "must be at most " + fe.Param()
	case "startswith":
		ce.Message = fmt.Sprintf("must start with %q", fe.Param())
	case "required", "required_with":
		ce.Message = "is required"
		ce.Value = nil
	default:
		ce.Message = "failed " + fe.Tag() + " check"
	}
	if ce.Hint == "" {
		switch fe.Field() {
		case "port", "ws-port", "ssh-port":
			ce.Hint = "use a port between 1 and 65535"
		}
	}
	return ce
}
