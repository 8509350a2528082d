package connection

import (
	"encoding/json"
	"errors"
	"maps"
	"time"
)

// Errors
var (
	ErrConnectTimeout = errors.New("connect timeout")
)

// Heartbeat frame types exchanged with the server. Heartbeats are part of the
// application protocol, not WebSocket control frames: browsers cannot see
// protocol-level pings, so servers send {"type":"ping"} as a regular text
// frame and expect {"type":"pong"} back.
const (
	heartbeatPingType = "ping"
	heartbeatPongType = "pong"
)

var pongFrame = []byte(`{"type":"pong"}`)

// Config controls the behavior of a single shared connection. The first
// subscriber to a URL fixes the Config for that connection; later subscribers
// with a different Config are logged and ignored.
type Config struct {
	Reconnect              bool              // Retry after failures and unexpected closes
	ReconnectInterval      time.Duration     // Base delay before the first retry
	MaxReconnectAttempts   int               // Consecutive failed attempts before giving up
	ConnectionTimeout      time.Duration     // Max time for a dial to reach Open
	AutoRespondToHeartbeat bool              // Answer each server ping with one pong
	Headers                map[string]string // Extra headers for the handshake request
}

// DefaultConfig returns the standard connection policy.
func DefaultConfig() Config {
	return Config{
		Reconnect:              true,
		ReconnectInterval:      1 * time.Second,
		MaxReconnectAttempts:   5,
		ConnectionTimeout:      10 * time.Second,
		AutoRespondToHeartbeat: true,
	}
}

func (c Config) equal(o Config) bool {
	return c.Reconnect == o.Reconnect &&
		c.ReconnectInterval == o.ReconnectInterval &&
		c.MaxReconnectAttempts == o.MaxReconnectAttempts &&
		c.ConnectionTimeout == o.ConnectionTimeout &&
		c.AutoRespondToHeartbeat == o.AutoRespondToHeartbeat &&
		maps.Equal(c.Headers, o.Headers)
}

// Subscriber is a set of callbacks attached to a shared connection. Any
// callback may be nil. Callbacks run on the registry's dispatch goroutine for
// the connection, outside all registry locks, so they may subscribe,
// unsubscribe, or send without deadlocking. A panic in one callback is
// recovered and does not disturb the others.
type Subscriber struct {
	OnOpen                func()
	OnMessage             func(Envelope)
	OnClose               func()
	OnError               func(error)
	OnHeartbeat           func()
	OnMaxRetriesExhausted func()
}

// Envelope is the normalized shape of an inbound frame. Servers are
// inconsistent about the payload field name, so both are captured and Value
// picks whichever is present.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Value returns the envelope's payload, preferring the "payload" field over
// "data" when both are set.
func (e Envelope) Value() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	return e.Data
}

// State is a point-in-time snapshot of one connection's lifecycle.
type State struct {
	Connected        bool
	ReconnectCount   int
	ExhaustedRetries bool
	ConnectionID     string
	LastHeartbeat    time.Time
	LastPong         time.Time
}

// Stats aggregates registry-wide counters. Gauges are computed at call time;
// counters are cumulative since the registry was created.
type Stats struct {
	Entries            int
	Subscribers        int
	OpenConnections    int
	MessagesReceived   int64
	MessagesDispatched int64
	ParseErrors        int64
	PingsReceived      int64
	PongsSent          int64
	ReconnectsPlanned  int64
	CallbackPanics     int64
}

// entryState is the lifecycle position of a single connection entry.
type entryState int

const (
	stateIdle entryState = iota
	stateConnecting
	stateOpen
	stateReconnecting
	stateClosed
	stateExhausted
)

func (s entryState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateReconnecting:
		return "reconnecting"
	case stateClosed:
		return "closed"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
