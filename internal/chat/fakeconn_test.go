package chat

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatd/util"
)

// fakeConn is an in-memory Conn.  Tests push client lines with say and
// read server lines with expect.
type fakeConn struct {
	in      chan []byte
	written chan string
	closed  chan struct{}
	once    sync.Once
	addr    net.Addr
}

func newFakeConn(host string) *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan string, 1024),
		closed:  make(chan struct{}),
		addr:    &net.TCPAddr{IP: net.ParseIP(host), Port: 50000},
	}
}

func (c *fakeConn) ReadLine() ([]byte, error) {
	select {
	case line, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteLine(line string) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.written <- line
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.addr }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) say(line string) { c.in <- []byte(line) }

// hangUp simulates the client closing its end.
func (c *fakeConn) hangUp() { close(c.in) }

// expect reads the next len(want) lines and compares them in order.
func (c *fakeConn) expect(t *testing.T, want ...string) {
	t.Helper()
	got := make([]string, 0, len(want))
	for range want {
		select {
		case line := <-c.written:
			got = append(got, line)
		case <-time.After(2 * time.Second):
			require.Equal(t, want, got, "timed out waiting for lines")
		}
	}
	require.Equal(t, want, got)
}

// expectQuiet asserts nothing else arrives for a short while.
func (c *fakeConn) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case line := <-c.written:
		t.Fatalf("unexpected line %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}
