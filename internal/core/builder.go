package core

import (
	"chatd/config"
	"chatd/internal/chat"
	"chatd/internal/metrics"
	"chatd/internal/retry"
	"chatd/internal/transport"
	"chatd/tunnel"
	"chatd/util"
)

// Build constructs the Mode selected by cfg.  Call cfg.Resolve and
// cfg.Validate first.  m may be nil.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if cfg.ClientMode() {
		return buildConnect(cfg, logger)
	}
	return buildServe(cfg, logger, m), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if _, _, err := config.ParseAddress(cfg.Connect); err != nil {
		return nil, err
	}
	return &ConnectMode{
		Dialer:  &transport.TCPDialer{Timeout: config.DefaultConnTimeout},
		Address: cfg.Connect,
		Name:    cfg.Name,
		Logger:  logger,
	}, nil
}

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	return &ServeMode{
		Address:        cfg.ListenAddress(),
		WSAddress:      cfg.WSAddress,
		AllowedOrigins: cfg.AllowedOrigins,
		Gateway:        buildGateway(cfg),
		SendQueue:      cfg.SendQueue,
		MaxLineBytes:   cfg.MaxLineBytes,
		WriteTimeout:   cfg.WriteTimeout,
		GracePeriod:    cfg.GracePeriod,
		Room:           chat.NewRoom(cfg.HistorySize, logger, m),
		Metrics:        m,
		Logger:         logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildGateway returns the gateway publishing config, or nil when no
// gateway was requested.
func buildGateway(cfg *config.Config) *tunnel.GatewayConfig {
	if !cfg.GatewayEnabled {
		return nil
	}
	b := retry.DefaultBackoff()
	b.MaxAttempts = config.DefaultMaxReconnectAttempts
	b.MaxDelay = config.DefaultMaxReconnectBackoff

	return &tunnel.GatewayConfig{
		SSH: &tunnel.SSHConfig{
			User:          cfg.GatewayUser,
			Host:          cfg.GatewayHost,
			Port:          cfg.GatewayPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
		},
		RemoteBindAddress: cfg.RemoteBindAddress,
		RemotePort:        cfg.RemotePort,
		KeepAliveInterval: cfg.KeepAliveInterval,
		AutoReconnect:     cfg.AutoReconnect,
		Backoff:           b,
	}
}
