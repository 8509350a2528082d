package model

import (
	"encoding/json"
	"testing"
	"time"
)

// TestEventWireFormat pins the JSON field names the Redis bridge publishes;
// downstream dashboards parse these keys.
func TestEventWireFormat(t *testing.T) {
	ev := Event{
		MessageID:  "msg-lz5k2q-a1b2c3",
		Endpoint:   "wss://push.example.com/v1/stream",
		Type:       "deploy",
		Payload:    json.RawMessage(`{"service":"api"}`),
		ReceivedAt: time.Date(2024, 1, 15, 12, 30, 45, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"message_id", "endpoint", "type", "payload", "received_at"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("wire format missing %q: %s", key, data)
		}
	}
	if string(fields["payload"]) != `{"service":"api"}` {
		t.Errorf("payload re-encoded: %s", fields["payload"])
	}
}
