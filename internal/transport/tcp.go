package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	chaterr "chatd/internal/errors"
	"chatd/util"
)

// TCPDialer establishes plain TCP connections for client mode.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the net package default
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, chaterr.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// ── Line framing ─────────────────────────────────────────────────────

// TCPConn frames a stream connection into '\n'-terminated lines.  Lines
// longer than the configured maximum fail with ErrLineTooLong.
//
// ReadLine must be called from a single goroutine and WriteLine from a
// single (possibly different) goroutine; Close may be called from any.
type TCPConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	buf          *[]byte
	writeTimeout time.Duration
}

// NewTCPConn wraps conn.  maxLine bounds a single inbound line in bytes;
// writeTimeout bounds each outbound write (0 disables the deadline).
func NewTCPConn(conn net.Conn, maxLine int, writeTimeout time.Duration) *TCPConn {
	buf := util.GetBuf()
	initial := min(maxLine, len(*buf))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer((*buf)[:0:initial], maxLine)

	return &TCPConn{
		conn:         conn,
		scanner:      scanner,
		buf:          buf,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line without its terminator.  The returned
// slice is only valid until the next call.
func (c *TCPConn) ReadLine() ([]byte, error) {
	if c.scanner.Scan() {
		return c.scanner.Bytes(), nil
	}
	err := c.scanner.Err()
	c.release()

	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, chaterr.ErrLineTooLong
	default:
		return nil, err
	}
}

// WriteLine sends line followed by '\n'.
func (c *TCPConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// Close closes the underlying connection, unblocking ReadLine and
// WriteLine.
func (c *TCPConn) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer address.
func (c *TCPConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// release hands the scanner's initial buffer back to the pool.  Only the
// reading goroutine calls it, after the scanner is done.
func (c *TCPConn) release() {
	if c.buf != nil {
		util.PutBuf(c.buf)
		c.buf = nil
	}
}
