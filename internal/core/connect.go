package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"chatd/internal/chat"
	"chatd/internal/transport"
	"chatd/util"
)

// ConnectMode dials a chat server and relays the terminal over the
// connection.  With Name set the login line is sent first; otherwise an
// interactive user is asked for one.
type ConnectMode struct {
	Dialer  transport.Dialer
	Address string
	Name    string
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer

	// interactive reports whether stdin is a terminal.
	interactive func() bool
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *ConnectMode) isInteractive() bool {
	if m.interactive != nil {
		return m.interactive()
	}
	if m.Stdin != nil {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run dials the server, logs in and relays until either side closes.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	in := m.stdin()
	name := m.Name
	if name == "" && m.isInteractive() {
		// Share one reader so bytes buffered past the name are relayed.
		br := bufio.NewReader(in)
		in = br
		fmt.Fprint(m.stdout(), "name: ")
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading name: %w", err)
		}
		name = strings.TrimSpace(line)
	}

	m.Logger.Verbose("connecting to %s", m.Address)
	conn, err := m.Dialer.Dial(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	defer conn.Close()
	m.Logger.Verbose("connected to %s", conn.RemoteAddr())

	if name != "" {
		if _, err := io.WriteString(conn, chat.LoginPrefix+name+"\n"); err != nil {
			return fmt.Errorf("sending login: %w", err)
		}
		m.Logger.Debug("sent login for %q", name)
	}

	return util.Pump(ctx, conn, in, m.stdout())
}
