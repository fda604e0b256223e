package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	chaterr "chatd/internal/errors"
)

func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("Welcome to the chat!\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	line, err := NewTCPConn(conn, 1024, 0).ReadLine()
	require.NoError(t, err)
	require.Equal(t, "Welcome to the chat!", string(line))
}

func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)

	var netErr *chaterr.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, "dial", netErr.Op)
}

func TestTCPDialer_Close(t *testing.T) {
	require.NoError(t, (&TCPDialer{}).Close())
}

func TestTCPConn_Framing(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := NewTCPConn(server, 1024, 0)

	go func() {
		io.WriteString(client, "login:alice\r\nhello\n\nlast without newline") //nolint:errcheck
		client.Close()
	}()

	var got []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, string(line))
	}
	require.Equal(t, []string{"login:alice", "hello", "", "last without newline"}, got)
}

func TestTCPConn_LineTooLong(t *testing.T) {
	tests := []struct {
		name    string
		maxLine int
		length  int
		wantErr bool
	}{
		{"small limit ok", 64, 63, false},
		{"small limit exceeded", 64, 65, true},
		{"above pool buffer ok", 64 * 1024, 40 * 1024, false},
		{"above pool buffer exceeded", 40 * 1024, 48 * 1024, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer client.Close()
			c := NewTCPConn(server, tt.maxLine, 0)

			payload := make([]byte, tt.length)
			for i := range payload {
				payload[i] = 'x'
			}
			go func() {
				client.Write(append(payload, '\n')) //nolint:errcheck
			}()

			line, err := c.ReadLine()
			if tt.wantErr {
				require.ErrorIs(t, err, chaterr.ErrLineTooLong)
				return
			}
			require.NoError(t, err)
			require.Len(t, line, tt.length)
		})
	}
}

func TestTCPConn_WriteLine(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := NewTCPConn(server, 1024, time.Second)

	go func() {
		c.WriteLine("New user: alice") //nolint:errcheck
	}()

	line, err := NewTCPConn(client, 1024, 0).ReadLine()
	require.NoError(t, err)
	require.Equal(t, "New user: alice", string(line))
}

func TestTCPConn_WriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := NewTCPConn(server, 1024, 20*time.Millisecond)

	// Nobody reads from client, so the pipe write blocks until the deadline.
	err := c.WriteLine("stuck")
	require.Error(t, err)
	require.True(t, isTimeout(err), "want timeout, got %v", err)
}

func TestTCPConn_CloseUnblocksRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := NewTCPConn(server, 1024, 0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ReadLine()
		errCh <- err
	}()

	require.NoError(t, c.Close())
	select {
	case err := <-errCh:
		require.True(t, chaterr.IsClosed(err), "want closed error, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine still blocked after Close")
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
