package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance  InstanceConfig   `yaml:"instance"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Database  DatabaseConfig   `yaml:"database"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Server    ServerConfig     `yaml:"server"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID       string `yaml:"id"`
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// EndpointConfig describes one upstream WebSocket endpoint and the event
// types to route from it.
type EndpointConfig struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	Events     []string          `yaml:"events"`
	Headers    map[string]string `yaml:"headers"`
	Connection ConnectionConfig  `yaml:"connection"`
}

// ConnectionConfig holds per-endpoint connection settings. Reconnect and
// AutoRespondToHeartbeat are pointers so an absent key defaults to true.
type ConnectionConfig struct {
	Reconnect              *bool         `yaml:"reconnect"`
	ReconnectInterval      time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts   int           `yaml:"max_reconnect_attempts"`
	ConnectionTimeout      time.Duration `yaml:"connection_timeout"`
	AutoRespondToHeartbeat *bool         `yaml:"auto_respond_to_heartbeat"`
}

// DatabaseConfig holds event persistence settings.
type DatabaseConfig struct {
	Enabled  bool        `yaml:"enabled"`
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Name     string      `yaml:"name"`
	User     string      `yaml:"user"`
	Password string      `yaml:"password"`
	SSLMode  string      `yaml:"ssl_mode"`
	MaxConns int         `yaml:"max_conns"`
	MinConns int         `yaml:"min_conns"`
	Batch    BatchConfig `yaml:"batch"`
}

// BatchConfig holds event writer batching settings.
type BatchConfig struct {
	Size             int           `yaml:"size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	QueueMaxCapacity int           `yaml:"queue_max_capacity"`
}

// BridgeConfig holds Redis republishing settings.
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ServerConfig holds the health and metrics HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}
