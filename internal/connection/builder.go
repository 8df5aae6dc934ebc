package connection

import (
	"log/slog"
	"time"

	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/identity"
	"github.com/rickgao/blip-connect/internal/lime"
)

// RoutingRule keeps this client's traffic apart from other consumers
// connected with the same identity (e.g. the desk application).
const RoutingRule = "identity"

// Builder creates unconnected transport clients.
type Builder interface {
	Build(identifier, token, hostname string, cfg config.BlipConfig) (TransportClient, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(identifier, token, hostname string, cfg config.BlipConfig) (TransportClient, error)

func (f BuilderFunc) Build(identifier, token, hostname string, cfg config.BlipConfig) (TransportClient, error) {
	return f(identifier, token, hostname, cfg)
}

// LimeBuilder builds LIME clients over fresh websockets.
type LimeBuilder struct {
	handshake time.Duration
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewLimeBuilder creates a builder using the connection timeouts of cfg.
func NewLimeBuilder(cfg config.ConnectionConfig, logger *slog.Logger) *LimeBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LimeBuilder{
		handshake: cfg.HandshakeTimeout,
		keepAlive: cfg.PingInterval,
		logger:    logger,
	}
}

// Build returns a client for identifier at hostname. It does no network I/O.
func (b *LimeBuilder) Build(identifier, token, hostname string, cfg config.BlipConfig) (TransportClient, error) {
	if err := identity.ValidatePair(identifier, token); err != nil {
		return nil, err
	}

	clientCfg := b.clientConfig(identifier, token, hostname, cfg)
	return lime.NewClient(clientCfg, b.logger.With("host", hostname)), nil
}

func (b *LimeBuilder) clientConfig(identifier, token, hostname string, cfg config.BlipConfig) lime.ClientConfig {
	clientCfg := lime.DefaultClientConfig()
	clientCfg.Identifier = identifier
	clientCfg.Token = token
	clientCfg.HostName = hostname
	clientCfg.RoutingRule = RoutingRule
	clientCfg.NotifyConsumed = false

	if cfg.Domain != "" {
		clientCfg.Domain = cfg.Domain
	}
	if cfg.AccountIssuer != "" {
		clientCfg.Issuer = cfg.AccountIssuer
	}
	if cfg.Websocket.Port != "" {
		clientCfg.Port = cfg.Websocket.Port
	}
	if cfg.Websocket.Scheme != "" {
		clientCfg.Scheme = cfg.Websocket.Scheme
	}
	if cfg.ApplicationName != "" {
		clientCfg.Instance = cfg.ApplicationName
	}
	if b.handshake > 0 {
		clientCfg.Handshake = b.handshake
	}
	clientCfg.KeepAlive = b.keepAlive

	wsCfg := lime.DefaultWebSocketConfig()
	wsCfg.HandshakeTimeout = clientCfg.Handshake
	wsCfg.PingInterval = clientCfg.KeepAlive
	logger := b.logger
	clientCfg.TransportFactory = func() lime.Transport {
		return lime.NewWebSocketTransport(wsCfg, logger)
	}

	return clientCfg
}
