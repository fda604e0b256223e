package chat

import (
	"context"
	"errors"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	chaterr "chatd/internal/errors"
	"chatd/util"
)

// Conn is the line-framed transport a Session runs over.  The transport
// package provides TCP and WebSocket implementations.
type Conn interface {
	// ReadLine blocks for the next line, without its terminator.
	ReadLine() ([]byte, error)
	// WriteLine sends one line, appending the terminator.
	WriteLine(line string) error
	// Close unblocks any pending ReadLine or WriteLine.
	Close() error
	RemoteAddr() net.Addr
}

// Session drives one client connection through the chat protocol.
type Session struct {
	id     uuid.UUID
	conn   Conn
	room   *Room
	addr   string
	logger *util.Logger
	out    chan string

	mu     sync.Mutex
	closed bool   // out has been closed
	name   string // written under both mu and room.mu
}

// NewSession binds conn to room with an outbound queue of queueLen lines.
func NewSession(conn Conn, room *Room, queueLen int) *Session {
	if queueLen < 1 {
		queueLen = 1
	}
	id := uuid.New()
	return &Session{
		id:     id,
		conn:   conn,
		room:   room,
		addr:   util.PeerHost(conn.RemoteAddr()),
		logger: room.logger.Named("session " + id.String()[:8]),
		out:    make(chan string, queueLen),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Addr returns the peer host captured at accept time.
func (s *Session) Addr() string { return s.addr }

// Name returns the registered name, or "" before login.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Registered reports whether the login handshake has completed.
func (s *Session) Registered() bool { return s.Name() != "" }

// Serve runs the session until the connection closes, the client is
// rejected, or ctx is cancelled.  It returns once the writer has flushed
// and the connection is closed.
func (s *Session) Serve(ctx context.Context) {
	flushed := make(chan struct{})
	go s.writeLoop(flushed)

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	s.onConnect()
	for {
		raw, err := s.conn.ReadLine()
		if err != nil {
			s.readFailed(err)
			break
		}
		if !s.onLine(raw) {
			break
		}
	}
	s.onDisconnect()
	<-flushed
}

// ── Protocol events ──────────────────────────────────────────────────

func (s *Session) onConnect() {
	// Queue the welcome before joining so no broadcast can overtake it.
	s.send(Welcome)
	s.room.Join(s)
	s.room.metrics.SessionOpened()
	s.room.logger.Info("client %s connected", s.addr)
}

// onLine handles one inbound line.  It returns false when the session
// must end.
func (s *Session) onLine(raw []byte) bool {
	line := trimCR(raw)
	valid := utf8.Valid(line)

	if !s.Registered() {
		name, ok := "", false
		if valid {
			name, ok = ParseLogin(string(line))
		}
		if !ok {
			s.room.metrics.InvalidLogin()
			s.logger.Debug("invalid login line %q", line)
			s.send(InvalidLogin)
			return true
		}
		return s.register(name)
	}

	if !valid {
		s.logger.Verbose("dropping line that is not valid UTF-8 (%d bytes)", len(line))
		return true
	}
	s.room.logger.Info("%s", s.room.Post(s, string(line)))
	return true
}

func (s *Session) register(name string) bool {
	err := s.room.Register(s, name)
	switch {
	case err == nil:
		s.logger.Verbose("registered as %q", name)
		return true
	case errors.Is(err, chaterr.ErrNameTaken):
		s.logger.Verbose("rejected: %v", err)
		s.send(NameTaken(name))
		return false
	default:
		// Evicted before the handshake finished.
		return false
	}
}

func (s *Session) onDisconnect() {
	s.room.Leave(s)
	s.shutdown()
	s.room.metrics.SessionClosed()
	s.room.logger.Info("client %s disconnected", s.addr)
}

func (s *Session) readFailed(err error) {
	switch {
	case chaterr.IsClosed(err):
	case errors.Is(err, chaterr.ErrLineTooLong):
		s.room.metrics.RecordError(err.Error())
		s.room.logger.Warn("client %s: %v", s.addr, err)
	default:
		s.room.metrics.RecordError(err.Error())
		s.logger.Verbose("read: %v", err)
	}
}

// ── Outbound queue ───────────────────────────────────────────────────

// send queues a line for this session only.  A full queue ends the
// session the same way a Room eviction does.
func (s *Session) send(line string) {
	if !s.enqueue(line) {
		s.room.metrics.MemberDropped()
		s.room.logger.Warn("dropping client %s: %v", s.addr, chaterr.ErrSlowConsumer)
		s.conn.Close()
	}
}

// enqueue offers line to the writer without blocking.  It returns false
// only when the queue is full; lines for a closed session are discarded.
func (s *Session) enqueue(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.out <- line:
		return true
	default:
		return false
	}
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// shutdown closes the queue; the writer flushes what is left, then closes
// the connection.
func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *Session) writeLoop(flushed chan<- struct{}) {
	defer close(flushed)
	defer s.conn.Close()

	for line := range s.out {
		if err := s.conn.WriteLine(line); err != nil {
			if !chaterr.IsClosed(err) {
				s.logger.Verbose("write: %v", err)
			}
			// Unblock the reader, then discard until shutdown.
			s.conn.Close()
			for range s.out {
			}
			return
		}
	}
}
