package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/retry"
	"chatd/util"
)

// GatewayConfig describes where the chat server is published.
type GatewayConfig struct {
	SSH               *SSHConfig
	RemoteBindAddress string // "" lets the gateway decide
	RemotePort        int
	KeepAliveInterval time.Duration // 0 disables keepalives
	AutoReconnect     bool
	Backoff           *retry.Backoff // nil uses retry.DefaultBackoff
}

// Gateway is a net.Listener whose connections arrive through an SSH
// remote forward.  With AutoReconnect it re-establishes the forward
// after the SSH link drops, so Accept keeps working across outages.
type Gateway struct {
	cfg     *GatewayConfig
	logger  *util.Logger
	metrics *metrics.Collector
	dial    func(ctx context.Context) (*ssh.Client, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	client   *ssh.Client
	listener *remoteListener
	closed   bool
}

// NewGateway returns a Gateway ready to Start.  m may be nil.
func NewGateway(cfg *GatewayConfig, logger *util.Logger, m *metrics.Collector) *Gateway {
	g := &Gateway{cfg: cfg, logger: logger.Named("gateway"), metrics: m}
	g.dial = func(ctx context.Context) (*ssh.Client, error) {
		return Dial(ctx, cfg.SSH, g.logger)
	}
	return g
}

// Start logs in to the gateway and requests the remote listener.  The
// Gateway closes itself when ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)
	if err := g.connect(); err != nil {
		g.cancel()
		return err
	}
	context.AfterFunc(g.ctx, func() { g.Close() })
	return nil
}

// Accept returns the next connection forwarded by the gateway.  It must
// be called from a single goroutine.
func (g *Gateway) Accept() (net.Conn, error) {
	for {
		g.mu.Lock()
		ln, closed := g.listener, g.closed
		g.mu.Unlock()
		if closed {
			return nil, net.ErrClosed
		}

		if ln != nil {
			conn, err := ln.Accept()
			if err == nil {
				g.logger.Debug("forwarded connection from %s", conn.RemoteAddr())
				return conn, nil
			}
			if g.isClosed() {
				return nil, net.ErrClosed
			}
			g.logger.Warn("link to %s lost: %v", g.cfg.SSH.Addr(), err)
			g.metrics.RecordError(fmt.Sprintf("gateway: %v", err))
			if !g.cfg.AutoReconnect {
				g.teardown()
				return nil, chaterr.WrapSSH("accept", g.cfg.SSH.Host, g.cfg.SSH.Port, err)
			}
		}

		if err := g.reconnect(); err != nil {
			if g.isClosed() {
				return nil, net.ErrClosed
			}
			return nil, err
		}
	}
}

// Close cancels the remote forward and logs out.  Connections already
// accepted stay open until their sessions end.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	err := g.teardown()
	g.wg.Wait()
	return err
}

// Addr returns the published address on the gateway.
func (g *Gateway) Addr() net.Addr {
	return gatewayAddr(util.FormatAddr(g.cfg.SSH.Host, g.cfg.RemotePort))
}

type gatewayAddr string

func (a gatewayAddr) Network() string { return "ssh-forward" }
func (a gatewayAddr) String() string  { return string(a) }

// ── Link management ──────────────────────────────────────────────────

func (g *Gateway) connect() error {
	client, err := g.dial(g.ctx)
	if err != nil {
		return err
	}
	ln, err := listenRemote(client, g.cfg.RemoteBindAddress, g.cfg.RemotePort)
	if err != nil {
		client.Close()
		return chaterr.WrapSSH("listen", g.cfg.SSH.Host, g.cfg.SSH.Port, err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		ln.Close()
		client.Close()
		return net.ErrClosed
	}
	g.client, g.listener = client, ln
	pinging := g.cfg.KeepAliveInterval > 0
	if pinging {
		g.wg.Add(1)
	}
	g.mu.Unlock()

	g.logger.Info("published on %s via %s", g.Addr(), g.cfg.SSH.Addr())
	if pinging {
		go g.keepalive(client)
	}
	return nil
}

func (g *Gateway) reconnect() error {
	g.teardown()
	g.metrics.GatewayReconnect()

	b := retry.DefaultBackoff()
	if g.cfg.Backoff != nil {
		copied := *g.cfg.Backoff
		b = &copied
	}
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		g.logger.Warn("reconnect attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
		g.metrics.RecordError(fmt.Sprintf("gateway reconnect: %v", err))
	}

	g.logger.Info("reconnecting to %s", g.cfg.SSH.Addr())
	err := b.Do(g.ctx, func(int) error {
		err := g.connect()
		if isFatal(err) || errors.Is(err, net.ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// teardown drops the current link, if any.
func (g *Gateway) teardown() error {
	g.mu.Lock()
	ln, client := g.listener, g.client
	g.listener, g.client = nil, nil
	g.mu.Unlock()

	var errs []error
	if ln != nil {
		ln.Close()
	}
	if client != nil {
		if err := client.Close(); err != nil && !chaterr.IsClosed(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// keepalive pings the gateway and closes the link when a ping fails or
// goes unanswered for a full interval, which unblocks Accept.
func (g *Gateway) keepalive(client *ssh.Client) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}

		reply := make(chan error, 1)
		go func() {
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			reply <- err
		}()

		var err error
		select {
		case <-g.ctx.Done():
			return
		case err = <-reply:
		case <-time.After(g.cfg.KeepAliveInterval):
			err = errors.New("keepalive timed out")
		}

		if err != nil {
			if g.current(client) {
				g.logger.Warn("keepalive failed: %v", err)
				client.Close()
			}
			return
		}
		g.metrics.RecordHealthCheck()
		g.logger.Debug("keepalive ok")
	}
}

func (g *Gateway) current(client *ssh.Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client == client
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
