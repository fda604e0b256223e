package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the chat listener port of the reference deployment.
	DefaultPort = 7410

	// DefaultHistorySize is how many recent chat lines a newly
	// registered client is sent.
	DefaultHistorySize = 10

	// DefaultSendQueue is the per-session outbound line buffer.  A
	// member whose queue fills up is disconnected.
	DefaultSendQueue = 256

	// DefaultMaxLineBytes caps a single inbound line.
	DefaultMaxLineBytes = 64 * 1024

	// MinLineBytes is the smallest accepted --max-line value.
	MinLineBytes = 64

	// DefaultWriteTimeout bounds a single line write to a client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to
	// drain their queues.
	DefaultGracePeriod = 5 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the gateway keepalive interval.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many times to retry after a
	// gateway disconnect.
	DefaultMaxReconnectAttempts = 10

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second
)

// Defaults returns a Config populated with every default value.
func Defaults() *Config {
	return &Config{
		Port:              DefaultPort,
		HistorySize:       DefaultHistorySize,
		SendQueue:         DefaultSendQueue,
		MaxLineBytes:      DefaultMaxLineBytes,
		WriteTimeout:      DefaultWriteTimeout,
		GracePeriod:       DefaultGracePeriod,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}
}
