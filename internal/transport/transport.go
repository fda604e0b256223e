// Package transport adapts network connections to the line-framed Conn
// the chat engine runs over, and provides the outbound Dialer used in
// client mode.
//
// Framing lives here so the chat package never sees raw bytes: TCP
// streams are split on '\n', WebSocket connections carry one line per
// text frame, and a frame holding several lines is split the same way.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
