package core

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"chatd/config"
	"chatd/internal/errors"
	"chatd/internal/transport"
	"chatd/util"
)

// TestBuild_Connect verifies that Build produces a ConnectMode whose
// dialer matches the address scheme.
func TestBuild_Connect(t *testing.T) {
	tests := []struct {
		name     string
		connect  string
		wantAddr string
		check    func(transport.Dialer) bool
	}{
		{"bare host", "example.com", "example.com:12345",
			func(d transport.Dialer) bool { _, ok := d.(*transport.TCPDialer); return ok }},
		{"host and port", "10.0.0.1:4000", "10.0.0.1:4000",
			func(d transport.Dialer) bool { _, ok := d.(*transport.TCPDialer); return ok }},
		{"tcp scheme", "tcp://10.0.0.1:4000", "10.0.0.1:4000",
			func(d transport.Dialer) bool { _, ok := d.(*transport.TCPDialer); return ok }},
		{"websocket", "ws://chat.local:8080/ws", "ws://chat.local:8080/ws",
			func(d transport.Dialer) bool { _, ok := d.(*transport.WSDialer); return ok }},
		{"secure websocket", "wss://chat.local/ws", "wss://chat.local/ws",
			func(d transport.Dialer) bool { _, ok := d.(*transport.WSDialer); return ok }},
		{"ssh default port", "ssh://chat.local", "chat.local:2222",
			func(d transport.Dialer) bool { _, ok := d.(*transport.SSHDialer); return ok }},
		{"bare ipv6", "::1", "[::1]:12345",
			func(d transport.Dialer) bool { _, ok := d.(*transport.TCPDialer); return ok }},
		{"ssh bare ipv6", "ssh://::1", "[::1]:2222",
			func(d transport.Dialer) bool { _, ok := d.(*transport.SSHDialer); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Connect = tt.connect
			cfg.Name = "alice"

			mode, err := Build(context.Background(), cfg, util.NewLogger(0))
			if err != nil {
				t.Fatal(err)
			}
			cm, ok := mode.(*ConnectMode)
			if !ok {
				t.Fatalf("expected *ConnectMode, got %T", mode)
			}
			if cm.Address != tt.wantAddr {
				t.Errorf("Address = %q, want %q", cm.Address, tt.wantAddr)
			}
			if !tt.check(cm.Dialer) {
				t.Errorf("unexpected dialer %T", cm.Dialer)
			}
			if cm.Name != "alice" {
				t.Errorf("Name = %q, want alice", cm.Name)
			}
		})
	}
}

// TestBuild_ConnectSSHUser verifies the SSH user falls back to the
// display name.
func TestBuild_ConnectSSHUser(t *testing.T) {
	cfg := config.Default()
	cfg.Connect = "ssh://chat.local:2200"
	cfg.Name = "bob"

	mode, err := Build(context.Background(), cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	d := mode.(*ConnectMode).Dialer.(*transport.SSHDialer)
	if d.User != "bob" {
		t.Errorf("User = %q, want bob", d.User)
	}

	cfg.SSHUser = "guest"
	mode, err = Build(context.Background(), cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if d := mode.(*ConnectMode).Dialer.(*transport.SSHDialer); d.User != "guest" {
		t.Errorf("User = %q, want guest", d.User)
	}
}

// TestBuild_ConnectBadAddress verifies an unusable address is reported
// as a config error.
func TestBuild_ConnectBadAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Connect = "example.com:99999"

	_, err := Build(context.Background(), cfg, util.NewLogger(0))
	var ce *errors.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Field != "connect" {
		t.Errorf("Field = %q, want connect", ce.Field)
	}
}

// TestBuild_Serve verifies Build binds every enabled listener.
func TestBuild_Serve(t *testing.T) {
	wsPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	sshPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.WebSocketPort = wsPort
	cfg.SSHPort = sshPort
	cfg.SSHHostKey = filepath.Join(t.TempDir(), "host_key")

	mode, err := Build(context.Background(), cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm, ok := mode.(*ServeMode)
	if !ok {
		t.Fatalf("expected *ServeMode, got %T", mode)
	}
	defer sm.Stop()

	if got := len(sm.Addrs()); got != 3 {
		t.Fatalf("listeners = %d, want 3", got)
	}
	if sm.Policy.MaxAttempts != config.DefaultHandshakeAttempts {
		t.Errorf("MaxAttempts = %d, want %d", sm.Policy.MaxAttempts, config.DefaultHandshakeAttempts)
	}
	if sm.Grace != config.DefaultGracePeriod {
		t.Errorf("Grace = %v, want %v", sm.Grace, config.DefaultGracePeriod)
	}
	if sm.Console != nil {
		t.Error("console should be off by default")
	}
}

// TestBuild_ServeBindConflict verifies a port already in use fails the
// build and releases listeners bound earlier.
func TestBuild_ServeBindConflict(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	tcpPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = tcpPort
	cfg.WebSocketPort = busy.Addr().(*net.TCPAddr).Port

	if _, err := Build(context.Background(), cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected bind error")
	}

	// The TCP listener opened first must have been closed again.
	ln, err := net.Listen("tcp", util.FormatAddr("127.0.0.1", tcpPort))
	if err != nil {
		t.Fatalf("port %d still held: %v", tcpPort, err)
	}
	ln.Close()
}
