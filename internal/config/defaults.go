package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDomain             = "blip.ai"
	DefaultAccountIssuer      = "account.blip.ai"
	DefaultApplicationName    = "portal"
	DefaultWebsocketScheme    = "wss"
	DefaultWebsocketPort      = "443"
	DefaultMaxConnectAttempts = 6
	DefaultBackoffBase        = 100 * time.Millisecond
	DefaultCommandTimeout     = 10 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultLogLevel           = "info"
)

// ApplyDefaults fills unset optional fields.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Blip.Domain == "" {
		c.Blip.Domain = DefaultDomain
	}
	if c.Blip.AccountIssuer == "" {
		c.Blip.AccountIssuer = DefaultAccountIssuer
	}
	if c.Blip.ApplicationName == "" {
		c.Blip.ApplicationName = DefaultApplicationName
	}
	if c.Blip.Websocket.Scheme == "" {
		c.Blip.Websocket.Scheme = DefaultWebsocketScheme
	}
	if c.Blip.Websocket.Port == "" {
		c.Blip.Websocket.Port = DefaultWebsocketPort
	}
	if c.Blip.Websocket.HostNameTenant == "" {
		c.Blip.Websocket.HostNameTenant = c.Blip.Websocket.HostName
	}

	// Without an explicit origin the service acts on the canonical domain
	if c.Portal.Origin == "" {
		c.Portal.Origin = c.Blip.DomainURL
	}

	if c.Connection.MaxConnectAttempts == 0 {
		c.Connection.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if c.Connection.BackoffBase == 0 {
		c.Connection.BackoffBase = DefaultBackoffBase
	}
	if c.Connection.CommandTimeout == 0 {
		c.Connection.CommandTimeout = DefaultCommandTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}

	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Database)
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
