package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFromEnv_Values(t *testing.T) {
	t.Setenv("CHATD_HOST", "0.0.0.0")
	t.Setenv("CHATD_PORT", "4000")
	t.Setenv("CHATD_WS_PORT", "4001")
	t.Setenv("CHATD_WS_ORIGINS", "https://a.com,https://b.com")
	t.Setenv("CHATD_HANDSHAKE_TIMEOUT", "30s")
	t.Setenv("CHATD_CONSOLE", "true")
	t.Setenv("CHATD_VERBOSE", "2")

	cfg := Default()
	if err := LoadFromEnv(cfg, nil); err != nil {
		t.Fatal(err)
	}

	if cfg.Host != "0.0.0.0" || cfg.Port != 4000 || cfg.WebSocketPort != 4001 {
		t.Errorf("host=%q port=%d ws=%d", cfg.Host, cfg.Port, cfg.WebSocketPort)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://a.com", "https://b.com"}) {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if !cfg.Console || cfg.Verbose != 2 {
		t.Errorf("console=%v verbose=%d", cfg.Console, cfg.Verbose)
	}
}

func TestLoadFromEnv_SSHClient(t *testing.T) {
	t.Setenv("CHATD_CONNECT", "ssh://chat.local")
	t.Setenv("CHATD_SSH_KEY", "/home/alice/.ssh/id_ed25519")
	t.Setenv("CHATD_SSH_AGENT", "true")
	t.Setenv("CHATD_STRICT_HOSTKEY", "1")

	cfg := Default()
	if err := LoadFromEnv(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Connect != "ssh://chat.local" || !cfg.IsClient() {
		t.Errorf("Connect = %q", cfg.Connect)
	}
	if cfg.SSHKey != "/home/alice/.ssh/id_ed25519" || !cfg.SSHAgent || !cfg.StrictHostKey {
		t.Errorf("key=%q agent=%v strict=%v", cfg.SSHKey, cfg.SSHAgent, cfg.StrictHostKey)
	}
}

func TestLoadFromEnv_UnsetKeepsDefaults(t *testing.T) {
	cfg := Default()
	if err := LoadFromEnv(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("config changed without env: %+v", cfg)
	}
}

func TestLoadFromEnv_ZeroOverrides(t *testing.T) {
	t.Setenv("CHATD_HANDSHAKE_ATTEMPTS", "0")

	cfg := Default()
	if err := LoadFromEnv(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.HandshakeAttempts != 0 {
		t.Errorf("HandshakeAttempts = %d, want 0", cfg.HandshakeAttempts)
	}
}

func TestLoadFromEnv_ExplicitFlagWins(t *testing.T) {
	t.Setenv("CHATD_PORT", "4000")
	t.Setenv("CHATD_NAME", "envname")

	cfg := Default()
	cfg.Port = 5000 // as if set by --port
	explicit := func(flag string) bool { return flag == "port" }
	if err := LoadFromEnv(cfg, explicit); err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000 (flag)", cfg.Port)
	}
	if cfg.Name != "envname" {
		t.Errorf("Name = %q, want envname", cfg.Name)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("CHATD_PORT", "not-a-number")
	if err := LoadFromEnv(Default(), nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.env")
	if err := os.WriteFile(path, []byte("CHATD_TEST_ENVFILE_PORT=4100\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CHATD_TEST_ENVFILE_PORT") })

	if err := LoadEnvFile(path, true); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("CHATD_TEST_ENVFILE_PORT"); got != "4100" {
		t.Errorf("env = %q, want 4100", got)
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.env")
	if err := os.WriteFile(path, []byte("CHATD_TEST_ENVFILE_NAME=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATD_TEST_ENVFILE_NAME", "fromenv")

	if err := LoadEnvFile(path, true); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("CHATD_TEST_ENVFILE_NAME"); got != "fromenv" {
		t.Errorf("env = %q, want fromenv", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")
	if err := LoadEnvFile(missing, false); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	if err := LoadEnvFile(missing, true); err == nil {
		t.Error("required missing file should fail")
	}
	if err := LoadEnvFile("", true); err != nil {
		t.Errorf("empty path: %v", err)
	}
}
