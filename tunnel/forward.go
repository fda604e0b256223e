package tunnel

// Remote port forwarding (RFC 4254 §7).  ssh.Client.Listen only accepts
// forwarded-tcpip channels whose bind address matches the request byte
// for byte, and several gateways echo back a different one ("0.0.0.0"
// for ""), so the request and channel handling are done by hand here.

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// tcpipForward is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" global requests.
type tcpipForward struct {
	Addr string
	Port uint32
}

// forwardedTCPIP is the channel-open payload of "forwarded-tcpip".
type forwardedTCPIP struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// remoteListener yields one net.Conn per forwarded-tcpip channel.
// Accept fails with io.EOF once the SSH connection is gone.
type remoteListener struct {
	client   *ssh.Client
	req      tcpipForward
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// listenRemote asks the gateway to listen on bindAddr:bindPort and
// forward every inbound connection back over client.
func listenRemote(client *ssh.Client, bindAddr string, bindPort int) (*remoteListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	req := tcpipForward{Addr: bindAddr, Port: uint32(bindPort)}
	ok, _, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&req))
	if err != nil {
		return nil, fmt.Errorf("tcpip-forward: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("gateway refused to listen on %s", net.JoinHostPort(bindAddr, strconv.Itoa(bindPort)))
	}

	return &remoteListener{
		client:   client,
		req:      req,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept waits for the next forwarded connection.
func (l *remoteListener) Accept() (net.Conn, error) {
	for {
		select {
		case <-l.done:
			return nil, net.ErrClosed
		case newCh, ok := <-l.incoming:
			if !ok {
				return nil, io.EOF
			}
			var origin forwardedTCPIP
			if err := ssh.Unmarshal(newCh.ExtraData(), &origin); err != nil {
				newCh.Reject(ssh.ConnectionFailed, "malformed forwarded-tcpip payload") //nolint:errcheck
				continue
			}
			ch, reqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			go ssh.DiscardRequests(reqs)
			return &channelConn{
				Channel: ch,
				local:   &net.TCPAddr{Port: int(origin.Port)},
				remote: &net.TCPAddr{
					IP:   net.ParseIP(origin.OriginAddr),
					Port: int(origin.OriginPort),
				},
			}, nil
		}
	}
}

// Close cancels the forward on the gateway and unblocks Accept.
func (l *remoteListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&l.req)) //nolint:errcheck
	})
	return nil
}

// Addr returns the address being listened on at the gateway.
func (l *remoteListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.req.Addr), Port: int(l.req.Port)}
}

// channelConn adapts an ssh.Channel to net.Conn.  SSH channels have no
// deadlines; a stalled peer is caught by the session's outbound queue
// limit instead.
type channelConn struct {
	ssh.Channel
	local, remote net.Addr
}

func (c *channelConn) LocalAddr() net.Addr              { return c.local }
func (c *channelConn) RemoteAddr() net.Addr             { return c.remote }
func (c *channelConn) SetDeadline(time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(time.Time) error { return nil }
