package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Blip.DomainURL == "" {
		return errors.New("blip.domain_url is required")
	}
	if c.Blip.Websocket.HostName == "" {
		return errors.New("blip.websocket.host_name is required")
	}
	switch c.Blip.Websocket.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("blip.websocket.scheme must be ws or wss, got %q", c.Blip.Websocket.Scheme)
	}

	if u, err := url.Parse(c.Portal.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("portal.origin must be an absolute URL, got %q", c.Portal.Origin)
	}

	if c.Connection.MaxConnectAttempts < 1 {
		return errors.New("connection.max_connect_attempts must be >= 1")
	}
	if c.Connection.BackoffBase < 0 {
		return errors.New("connection.backoff_base must be >= 0")
	}
	if c.Connection.CommandTimeout <= 0 {
		return errors.New("connection.command_timeout must be > 0")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
