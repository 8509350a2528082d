package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultReconnectInterval    = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 2 * time.Second
	DefaultQueueCapacity        = 1024
	DefaultQueueMaxCapacity     = 65536
	DefaultChannelPrefix        = "streamgate:"
	DefaultServerAddr           = ":8090"
)

func (c *GatewayConfig) applyDefaults() {
	// Instance defaults
	if c.Instance.ID == "" {
		c.Instance.ID = "gateway-" + uuid.NewString()[:8]
	}
	if c.Instance.LogLevel == "" {
		c.Instance.LogLevel = DefaultLogLevel
	}

	// Endpoint connection defaults
	for i := range c.Endpoints {
		applyConnectionDefaults(&c.Endpoints[i].Connection)
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.Batch.Size == 0 {
		c.Database.Batch.Size = DefaultBatchSize
	}
	if c.Database.Batch.FlushInterval == 0 {
		c.Database.Batch.FlushInterval = DefaultFlushInterval
	}
	if c.Database.Batch.QueueCapacity == 0 {
		c.Database.Batch.QueueCapacity = DefaultQueueCapacity
	}
	if c.Database.Batch.QueueMaxCapacity == 0 {
		c.Database.Batch.QueueMaxCapacity = DefaultQueueMaxCapacity
	}

	// Bridge defaults
	if c.Bridge.ChannelPrefix == "" {
		c.Bridge.ChannelPrefix = DefaultChannelPrefix
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
}

func applyConnectionDefaults(cc *ConnectionConfig) {
	if cc.Reconnect == nil {
		cc.Reconnect = boolPtr(true)
	}
	if cc.ReconnectInterval == 0 {
		cc.ReconnectInterval = DefaultReconnectInterval
	}
	if cc.MaxReconnectAttempts == 0 {
		cc.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cc.ConnectionTimeout == 0 {
		cc.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cc.AutoRespondToHeartbeat == nil {
		cc.AutoRespondToHeartbeat = boolPtr(true)
	}
}

func boolPtr(v bool) *bool { return &v }
