package util

import (
	"context"
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// Pump relays a terminal-style session over conn: bytes from in are sent
// upstream and everything the peer sends is written to out.  It returns
// once the peer stops sending or ctx is cancelled.
//
// Exhausting in half-closes the connection but keeps draining the peer,
// so the final lines it sends are not lost.  The upstream goroutine is
// not awaited: a read blocked on a terminal cannot be interrupted and
// ends with the process.
func Pump(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer) error {
	down := make(chan error, 1)
	up := make(chan error, 1)

	go func() {
		down <- pooledCopy(out, conn)
	}()

	go func() {
		err := pooledCopy(conn, in)
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite() //nolint:errcheck
		}
		up <- err
	}()

	for {
		select {
		case err := <-down:
			conn.Close()
			return harmless(err)
		case uerr := <-up:
			up = nil // in exhausted; keep draining the peer
			if !isHarmless(uerr) {
				conn.Close()
				<-down
				return uerr
			}
		case <-ctx.Done():
			conn.Close()
			<-down
			return nil
		}
	}
}

// pooledCopy is io.Copy with a buffer borrowed from BufPool.
func pooledCopy(dst io.Writer, src io.Reader) error {
	buf := GetBuf()
	defer PutBuf(buf)
	_, err := io.CopyBuffer(dst, src, *buf)
	return err
}

func harmless(err error) error {
	if isHarmless(err) {
		return nil
	}
	return err
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
