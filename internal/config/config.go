package config

import "time"

// ServiceConfig is the root configuration for a gateway connection service.
type ServiceConfig struct {
	Blip       BlipConfig       `yaml:"blip"`
	Portal     PortalConfig     `yaml:"portal"`
	Connection ConnectionConfig `yaml:"connection"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
}

// BlipConfig locates the gateway and the account issuer.
type BlipConfig struct {
	DomainURL       string          `yaml:"domain_url"`     // canonical portal URL, e.g. https://portal.blip.ai
	Domain          string          `yaml:"domain"`         // identity domain, e.g. blip.ai
	AccountIssuer   string          `yaml:"account_issuer"` // token issuer, e.g. account.blip.ai
	Websocket       WebsocketConfig `yaml:"websocket"`
	ApplicationName string          `yaml:"application_name"` // instance name, defaults to portal
	Tenant          string          `yaml:"tenant"`           // non-empty enables the tenant redial
}

// WebsocketConfig describes the gateway endpoint.
type WebsocketConfig struct {
	Scheme         string `yaml:"scheme"`
	Port           string `yaml:"port"`
	HostName       string `yaml:"host_name"`
	HostNameTenant string `yaml:"host_name_tenant"` // host template prefixed with the tenant
}

// PortalConfig describes the location the service connects on behalf of.
type PortalConfig struct {
	Origin string `yaml:"origin"` // e.g. https://my-tenant.portal.blip.ai
}

// ConnectionConfig tunes connect retries and command dispatch.
type ConnectionConfig struct {
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
}

// JournalConfig enables the Postgres command journal.
type JournalConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Database DBConfig `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
