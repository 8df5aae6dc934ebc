package connection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rickgao/blip-connect/internal/clock"
	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/identity"
	"github.com/rickgao/blip-connect/internal/tenant"
)

// Connector opens a connected client for an identity.
type Connector interface {
	Connect(ctx context.Context, identifier, token string, cfg config.BlipConfig) (TransportClient, error)
}

// BackoffConnector connects with bounded exponential backoff.
type BackoffConnector struct {
	builder  Builder
	resolver *tenant.Resolver
	clock    clock.Clock
	cfg      BackoffConfig
	logger   *slog.Logger
}

// retryState counts the attempts of one connect session.
type retryState struct {
	attempts int
}

func (r *retryState) reset() { r.attempts = 0 }

// NewBackoffConnector creates a connector. Zero cfg fields take the defaults.
func NewBackoffConnector(builder Builder, resolver *tenant.Resolver, clk clock.Clock, cfg BackoffConfig, logger *slog.Logger) *BackoffConnector {
	def := DefaultBackoffConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if resolver == nil {
		resolver = tenant.NewResolver(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BackoffConnector{
		builder:  builder,
		resolver: resolver,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With("component", "backoff_connector"),
	}
}

// Connect returns a connected client, retrying failures until the attempt
// ceiling is reached. Individual failures are logged, not returned. The
// only errors are *MaxRetriesError, invalid credentials, and ctx errors.
func (b *BackoffConnector) Connect(ctx context.Context, identifier, token string, cfg config.BlipConfig) (TransportClient, error) {
	var retry retryState

	for {
		if retry.attempts >= b.cfg.MaxAttempts {
			err := &MaxRetriesError{Identity: identifier, Ceiling: b.cfg.MaxAttempts}
			b.logger.Error("giving up connect", "identity", identifier, "error", err)
			return nil, err
		}
		retry.attempts++

		client, err := b.attempt(ctx, identifier, token, cfg)
		if err == nil {
			b.logger.Info("connected",
				"identity", identifier,
				"attempt", retry.attempts,
			)
			retry.reset()
			return client, nil
		}

		// Retrying cannot fix the input
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, err
		}

		delay := b.cfg.Delay(retry.attempts)
		b.logger.Warn("connect failed, will retry",
			"identity", identifier,
			"attempt", retry.attempts,
			"max_attempts", b.cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clock.After(delay):
		}
	}
}

// attempt performs one logical connect: the primary host, followed by the
// tenant host when the service runs for a tenant outside the domain URL.
func (b *BackoffConnector) attempt(ctx context.Context, identifier, token string, cfg config.BlipConfig) (TransportClient, error) {
	client, err := b.dial(ctx, identifier, token, cfg.Websocket.HostName, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Tenant == "" || b.resolver.OnCanonicalDomain(cfg.DomainURL) {
		return client, nil
	}

	client.Close()

	host, resolveErr := b.resolver.ResolveDetailed(
		cfg.Websocket.HostNameTenant,
		"",
		cfg.Websocket.HostName,
		cfg.DomainURL,
	)
	if resolveErr != nil {
		b.logger.Debug("tenant host resolution degraded", "host", host, "error", resolveErr)
	}

	b.logger.Info("redialing tenant host", "identity", identifier, "host", host)

	return b.dial(ctx, identifier, token, host, cfg)
}

func (b *BackoffConnector) dial(ctx context.Context, identifier, token, host string, cfg config.BlipConfig) (TransportClient, error) {
	client, err := b.builder.Build(identifier, token, host, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		b.discard(client, host)
		return nil, err
	}
	return client, nil
}

// discard tears down a failed client. Its close hook is replaced first so
// the teardown is not reported as a second failure.
func (b *BackoffConnector) discard(client TransportClient, host string) {
	client.OnClose(func(cause error) {
		b.logger.Debug("discarded client closed", "host", host, "cause", cause)
	})
	client.Close()
}
