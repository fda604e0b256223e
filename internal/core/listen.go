package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"chatd/internal/chat"
	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/transport"
	"chatd/tunnel"
	"chatd/util"
)

// ServeMode runs the chat server.  Every connection, whether accepted
// on the TCP listener, upgraded on the WebSocket endpoint or forwarded
// by the SSH gateway, becomes a chat.Session in the same Room.
type ServeMode struct {
	Address        string // TCP listen address, "host:port"
	WSAddress      string // "" disables the WebSocket frontend
	AllowedOrigins []string
	Gateway        *tunnel.GatewayConfig // nil disables gateway publishing

	SendQueue    int
	MaxLineBytes int
	WriteTimeout time.Duration
	GracePeriod  time.Duration

	Room    *chat.Room
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// Run serves until ctx is cancelled or a listener fails.  On the way out
// it stops accepting, closes every session and waits up to GracePeriod
// for them to finish.
func (m *ServeMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return chaterr.Wrap("listen", m.Address, err)
	}
	m.Logger.Info("Server started - OK")
	m.Logger.Info("Start listening on %s", ln.Addr())

	sessions := &tracker{}
	listeners := []net.Listener{ln}

	var srv *http.Server
	if m.WSAddress != "" {
		wsLn, err := net.Listen("tcp", m.WSAddress)
		if err != nil {
			ln.Close()
			return chaterr.Wrap("listen", m.WSAddress, err)
		}
		srv = m.httpServer(ctx, sessions)
		go func() {
			if err := srv.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.Logger.Error("websocket server: %v", err)
			}
		}()
		m.Logger.Info("WebSocket clients on ws://%s/ws", wsLn.Addr())
	}

	if m.Gateway != nil {
		gw := tunnel.NewGateway(m.Gateway, m.Logger, m.Metrics)
		if err := gw.Start(ctx); err != nil {
			ln.Close()
			if srv != nil {
				srv.Close()
			}
			return fmt.Errorf("gateway: %w", err)
		}
		listeners = append(listeners, gw)
	}

	// Accept loops report here; the first failure ends the server.
	var loops sync.WaitGroup
	failed := make(chan error, len(listeners))
	for _, l := range listeners {
		loops.Add(1)
		go func(l net.Listener) {
			defer loops.Done()
			if err := m.acceptLoop(ctx, l, sessions); err != nil {
				failed <- err
			}
		}(l)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-failed:
		m.Logger.Error("%v", runErr)
	}

	m.Logger.Info("shutting down")
	cancel()
	for _, l := range listeners {
		l.Close()
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), m.GracePeriod)
		srv.Shutdown(shutdownCtx) //nolint:errcheck
		done()
	}
	loops.Wait()

	if !sessions.wait(m.GracePeriod) {
		m.Logger.Warn("sessions still open after %s", m.GracePeriod)
	}
	m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	return runErr
}

// acceptLoop hands every connection from ln to a new Session.  It
// returns nil once ln is closed for shutdown.
func (m *ServeMode) acceptLoop(ctx context.Context, ln net.Listener, sessions *tracker) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			nerr := chaterr.Wrap("accept", ln.Addr().String(), err)
			if chaterr.IsRetryable(nerr) {
				m.Logger.Verbose("%v", nerr)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return nerr
		}

		m.Logger.Debug("accepted %s on %s", conn.RemoteAddr(), ln.Addr())
		if !sessions.add() {
			conn.Close()
			return nil
		}
		go func() {
			defer sessions.done()
			m.serve(ctx, transport.NewTCPConn(conn, m.MaxLineBytes, m.WriteTimeout))
		}()
	}
}

func (m *ServeMode) serve(ctx context.Context, conn chat.Conn) {
	chat.NewSession(conn, m.Room, m.SendQueue).Serve(ctx)
}

// ── WebSocket frontend ───────────────────────────────────────────────

func (m *ServeMode) httpServer(ctx context.Context, sessions *tracker) *http.Server {
	upgrader := transport.NewUpgrader(m.AllowedOrigins)
	wsLog := m.Logger.Named("ws")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with the HTTP error.
			wsLog.Verbose("upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		conn := transport.NewWSConn(ws, m.MaxLineBytes, m.WriteTimeout)
		if !sessions.add() {
			conn.Close()
			return
		}
		defer sessions.done()
		m.serve(ctx, conn)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, m.Metrics.JSON())
	})

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(wsLog.Writer(), "", 0),
	}
}

// ── Session tracking ─────────────────────────────────────────────────

// tracker counts running sessions.  Once wait has been called, add
// refuses new ones so the count can only fall.
type tracker struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func (t *tracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *tracker) done() { t.wg.Done() }

// wait blocks until every session has ended or timeout elapses.  It
// reports whether all sessions ended.
func (t *tracker) wait(timeout time.Duration) bool {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}
