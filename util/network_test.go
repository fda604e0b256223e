package util

import (
	"net"
	"testing"
)

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"1.2.3.4", 22, "1.2.3.4:22"},
		{"::1", 7410, "[::1]:7410"},
		{"", 7410, ":7410"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestPeerHost(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{"tcp4", &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 51234}, "10.0.0.7"},
		{"tcp6", &net.TCPAddr{IP: net.ParseIP("::1"), Port: 51234}, "::1"},
		{"unix", &net.UnixAddr{Name: "/tmp/chat.sock", Net: "unix"}, "/tmp/chat.sock"},
		{"nil", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeerHost(tt.addr); got != tt.want {
				t.Errorf("PeerHost = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < 1 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}
