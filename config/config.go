// Package config defines the runtime configuration for chatd and provides
// helpers for parsing gateway specifications and dial addresses.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	chaterr "chatd/internal/errors"
	"chatd/util"
)

// Config holds every tuneable for a chatd process, in server or client
// mode.  The yaml tags drive --config files; split_words maps each field
// to a CHATD_* environment variable (SendQueue → CHATD_SEND_QUEUE).
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	BindAddress    string        `yaml:"bind_address" split_words:"true"`
	Port           int           `yaml:"port" split_words:"true"`
	WSAddress      string        `yaml:"ws_address" split_words:"true"`      // empty disables the WebSocket frontend
	AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"` // "*" allows every origin
	HistorySize    int           `yaml:"history_size" split_words:"true"`
	SendQueue      int           `yaml:"send_queue" split_words:"true"`
	MaxLineBytes   int           `yaml:"max_line_bytes" split_words:"true"`
	WriteTimeout   time.Duration `yaml:"write_timeout" split_words:"true"`
	GracePeriod    time.Duration `yaml:"grace_period" split_words:"true"`

	// ── Client ───────────────────────────────────────────────────────
	Connect string `yaml:"connect" split_words:"true"` // host:port; enables client mode
	Name    string `yaml:"name" split_words:"true"`    // sent as login:<name> on connect

	// ── SSH gateway ──────────────────────────────────────────────────
	GatewaySpec       string        `yaml:"gateway" split_words:"true"` // raw [user@]host[:port]
	GatewayEnabled    bool          `yaml:"-" ignored:"true"`
	GatewayUser       string        `yaml:"-" ignored:"true"`
	GatewayHost       string        `yaml:"-" ignored:"true"`
	GatewayPort       int           `yaml:"-" ignored:"true"`
	RemoteBindAddress string        `yaml:"remote_bind_address" split_words:"true"`
	RemotePort        int           `yaml:"remote_port" split_words:"true"`
	SSHKeyPath        string        `yaml:"ssh_key" split_words:"true"`
	SSHPassword       bool          `yaml:"ssh_password" split_words:"true"` // true → prompt interactively
	UseSSHAgent       bool          `yaml:"ssh_agent" split_words:"true"`
	StrictHostKey     bool          `yaml:"strict_hostkey" split_words:"true"`
	KnownHostsPath    string        `yaml:"known_hosts" split_words:"true"`
	KeepAliveInterval time.Duration `yaml:"keep_alive" split_words:"true"`
	AutoReconnect     bool          `yaml:"auto_reconnect" split_words:"true"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose" split_words:"true"`
	DryRun  bool `yaml:"-" ignored:"true"`
}

// ListenAddress returns the host:port the TCP chat listener binds to.
func (c *Config) ListenAddress() string {
	return util.FormatAddr(c.BindAddress, c.Port)
}

// ClientMode reports whether the process dials a server instead of
// serving one.
func (c *Config) ClientMode() bool { return c.Connect != "" }

// Resolve derives the computed gateway fields from GatewaySpec.
func (c *Config) Resolve() error {
	c.GatewayEnabled = false
	if c.GatewaySpec == "" {
		return nil
	}
	user, host, port, err := ParseGatewaySpec(c.GatewaySpec)
	if err != nil {
		return &chaterr.ConfigError{
			Field:   "gateway",
			Value:   c.GatewaySpec,
			Message: err.Error(),
			Hint:    "expected [user@]host[:port], e.g. admin@gw.example.com:2222",
		}
	}
	c.GatewayEnabled = true
	c.GatewayUser = user
	c.GatewayHost = host
	c.GatewayPort = port
	return nil
}

// ── Address helpers ──────────────────────────────────────────────────

// ParseAddress splits a host:port dial target and validates the port.
func ParseAddress(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if h == "" {
		return "", 0, fmt.Errorf("invalid address %q: host is required", addr)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return h, port, nil
}

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseGatewaySpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway spec %q", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("gateway host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Call Resolve first so gateway fields are populated.
func (c *Config) Validate() error {
	if c.ClientMode() {
		return c.validateClient()
	}
	return c.validateServer()
}

func (c *Config) validateClient() error {
	if _, _, err := ParseAddress(c.Connect); err != nil {
		return &chaterr.ConfigError{
			Field:   "connect",
			Value:   c.Connect,
			Message: err.Error(),
			Hint:    "use host:port, e.g. --connect chat.example.com:7410",
		}
	}
	if strings.ContainsAny(c.Name, "\r\n") {
		return &chaterr.ConfigError{
			Field:   "name",
			Value:   c.Name,
			Message: "must be a single line",
		}
	}
	if c.GatewayEnabled {
		return fmt.Errorf("--connect and --gateway are mutually exclusive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Port < 1 || c.Port > 65535 {
		return &chaterr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("the default chat port is %d", DefaultPort),
		}
	}
	if c.WSAddress != "" {
		if _, _, err := net.SplitHostPort(c.WSAddress); err != nil {
			return &chaterr.ConfigError{
				Field:   "ws",
				Value:   c.WSAddress,
				Message: "not a host:port address",
				Hint:    "use :8080 to serve WebSocket clients on every interface",
			}
		}
	}
	if c.HistorySize < 0 {
		return &chaterr.ConfigError{Field: "history", Value: c.HistorySize, Message: "must not be negative"}
	}
	// Registration queues the welcome, the join notice and the whole
	// history replay in one burst.
	if minQueue := c.HistorySize + 2; c.SendQueue < minQueue {
		return &chaterr.ConfigError{
			Field:   "send-queue",
			Value:   c.SendQueue,
			Message: fmt.Sprintf("must be at least %d to hold the history replay", minQueue),
			Hint:    fmt.Sprintf("raise --send-queue or lower --history (currently %d)", c.HistorySize),
		}
	}
	if c.MaxLineBytes < MinLineBytes {
		return &chaterr.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineBytes,
			Message: fmt.Sprintf("must be at least %d bytes", MinLineBytes),
		}
	}
	if c.WriteTimeout < 0 {
		return &chaterr.ConfigError{Field: "write-timeout", Value: c.WriteTimeout, Message: "must not be negative"}
	}

	if c.GatewayEnabled {
		if c.GatewayHost == "" {
			return fmt.Errorf("gateway host is required")
		}
		if c.RemotePort == 0 {
			return &chaterr.ConfigError{
				Field:   "remote-port",
				Message: "required with --gateway",
				Hint:    "pick the port the gateway should expose, e.g. --remote-port 7410",
			}
		}
		if c.RemotePort < 1 || c.RemotePort > 65535 {
			return &chaterr.ConfigError{Field: "remote-port", Value: c.RemotePort, Message: "out of range 1-65535"}
		}
	} else if c.RemotePort != 0 {
		return &chaterr.ConfigError{
			Field:   "remote-port",
			Value:   c.RemotePort,
			Message: "has no effect without --gateway",
		}
	}
	return nil
}
