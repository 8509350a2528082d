package model

import (
	"encoding/json"
	"time"
)

// Event is one routed message as it flows through the pipeline: tagged with a
// message id when it enters the gateway, then batched to Postgres and
// republished on the Redis bridge. The JSON shape is the bridge's wire
// format, so field names are load-bearing.
type Event struct {
	MessageID  string          `json:"message_id"`
	Endpoint   string          `json:"endpoint"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
