package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	switch c.Instance.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("instance.log_level must be one of debug, info, warn, error, got %q", c.Instance.LogLevel)
	}

	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	names := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		if err := c.Endpoints[i].validate(i); err != nil {
			return err
		}
		name := c.Endpoints[i].Name
		if names[name] {
			return fmt.Errorf("endpoints[%d].name %q is not unique", i, name)
		}
		names[name] = true
	}

	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return err
		}
	}

	if c.Bridge.Enabled && c.Bridge.Addr == "" {
		return errors.New("bridge.addr is required when bridge is enabled")
	}

	return nil
}

func (e *EndpointConfig) validate(i int) error {
	if e.Name == "" {
		return fmt.Errorf("endpoints[%d].name is required", i)
	}
	if e.URL == "" {
		return fmt.Errorf("endpoints[%d].url is required", i)
	}
	if !strings.HasPrefix(e.URL, "ws://") && !strings.HasPrefix(e.URL, "wss://") {
		return fmt.Errorf("endpoints[%d].url must use ws:// or wss://, got %q", i, e.URL)
	}
	if len(e.Events) == 0 {
		return fmt.Errorf("endpoints[%d].events must list at least one event type", i)
	}
	for _, ev := range e.Events {
		if ev == "" {
			return fmt.Errorf("endpoints[%d].events contains an empty event type", i)
		}
	}
	if e.Connection.ReconnectInterval < 0 {
		return fmt.Errorf("endpoints[%d].connection.reconnect_interval must be >= 0", i)
	}
	if e.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("endpoints[%d].connection.max_reconnect_attempts must be >= 0", i)
	}
	if e.Connection.ConnectionTimeout < 0 {
		return fmt.Errorf("endpoints[%d].connection.connection_timeout must be >= 0", i)
	}
	return nil
}

func (db *DatabaseConfig) validate() error {
	if db.Host == "" {
		return errors.New("database.host is required")
	}
	if db.Name == "" {
		return errors.New("database.name is required")
	}
	if db.User == "" {
		return errors.New("database.user is required")
	}
	if db.Password == "" {
		return errors.New("database.password is required")
	}
	if db.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}
	if db.MinConns < 0 {
		return errors.New("database.min_conns must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	if db.Batch.Size < 1 {
		return errors.New("database.batch.size must be >= 1")
	}
	if db.Batch.FlushInterval <= 0 {
		return errors.New("database.batch.flush_interval must be > 0")
	}
	return nil
}
