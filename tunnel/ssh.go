// Package tunnel publishes the chat server through an SSH gateway using a
// remote port forward (the equivalent of ssh -R), so clients can reach a
// server that has no public address.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	chaterr "chatd/internal/errors"
	"chatd/util"
)

// SSHConfig holds everything needed to log in to an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// Addr returns the gateway's host:port.
func (c *SSHConfig) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// Dial connects and authenticates to the gateway.  Authentication and
// host-key failures are returned as *errors.SSHError with Op "auth" or
// "hostkey"; retrying those cannot help.
func Dial(ctx context.Context, cfg *SSHConfig, logger *util.Logger) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, chaterr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, chaterr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	timeout := cfg.ConnTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         timeout,
		// Public gateways announce the published address in the banner.
		BannerCallback: func(message string) error {
			logger.Info("gateway: %s", strings.TrimSpace(message))
			return nil
		},
	}

	addr := cfg.Addr()
	logger.Debug("gateway: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, chaterr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, classifyHandshake(cfg, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// classifyHandshake separates credential and host-key rejections from
// transport faults.
func classifyHandshake(cfg *SSHConfig, err error) error {
	var keyErr *knownhosts.KeyError
	switch {
	case errors.As(err, &keyErr):
		return chaterr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return chaterr.WrapSSH("auth", cfg.Host, cfg.Port, fmt.Errorf("%w: %v", chaterr.ErrAuthFailed, err))
	default:
		return chaterr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
}

// isFatal reports whether err came from a rejected login or host key.
func isFatal(err error) bool {
	var se *chaterr.SSHError
	return errors.As(err, &se) && (se.Op == "auth" || se.Op == "hostkey")
}
