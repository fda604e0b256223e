package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	chaterr "chatd/internal/errors"
)

// WSConn carries one chat line per WebSocket text frame.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pending      [][]byte // lines left over from the last frame
}

// NewWSConn wraps an upgraded connection.  Frames larger than maxLine
// bytes fail with ErrLineTooLong.
func NewWSConn(conn *websocket.Conn, maxLine int, writeTimeout time.Duration) *WSConn {
	conn.SetReadLimit(int64(maxLine))
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadLine returns the next line.  A frame normally carries one line; a
// frame with embedded '\n' yields each of its lines in turn, so one frame
// can never inject a line break into a single protocol line.
func (c *WSConn) ReadLine() ([]byte, error) {
	if len(c.pending) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				return nil, chaterr.ErrLineTooLong
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil, io.EOF
			default:
				return nil, err
			}
		}
		c.pending = splitLines(data)
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// WriteLine sends line as one text frame.
func (c *WSConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Close sends a best-effort close frame, then closes the connection.
// It is safe to call concurrently with ReadLine and WriteLine.
func (c *WSConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// splitLines breaks a frame payload on '\n'.  A single trailing newline
// ends the last line rather than starting an empty one.
func splitLines(data []byte) [][]byte {
	return bytes.Split(trimNewline(data), []byte{'\n'})
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

// ── Upgrade ──────────────────────────────────────────────────────────

// NewUpgrader returns an Upgrader that admits the given origins.  "*"
// admits every origin; an empty list keeps gorilla's same-host check.
// Requests without an Origin header come from non-browser clients and
// are always admitted.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	allowed, allowAll := normalizeOrigins(allowedOrigins)
	switch {
	case allowAll:
		u.CheckOrigin = func(*http.Request) bool { return true }
	case len(allowed) > 0:
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			n, ok := normalizeOrigin(origin)
			return ok && allowed[n]
		}
	}
	return u
}

func normalizeOrigins(origins []string) (map[string]bool, bool) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil, true
		}
		if n, ok := normalizeOrigin(o); ok {
			allowed[n] = true
		}
	}
	return allowed, false
}

// normalizeOrigin lowercases scheme and host so comparisons ignore case.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
