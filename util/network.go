package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FormatAddr returns "host:port".  An empty host binds every interface.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// NormalizeAddr accepts "host", "host:port", ":port" or a bare or
// bracketed IP literal ("::1", "[::1]") and fills in defaultPort when no
// port is given.
func NormalizeAddr(addr string, defaultPort int) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("address is empty")
	}

	if ip := net.ParseIP(strings.Trim(addr, "[]")); ip != nil {
		return FormatAddr(ip.String(), defaultPort), nil
	}
	if !strings.Contains(addr, ":") {
		return FormatAddr(addr, defaultPort), nil
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid port %q in %q", portStr, addr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return FormatAddr(host, port), nil
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
